// main.go - Admin control tool for the sync pipeline
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tongjisync/internal"
	"tongjisync/internal/reports"
	"tongjisync/internal/sites"
	"tongjisync/internal/tongji"
	"tongjisync/internal/users"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	dateLayout             = "2006-01-02"
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&SyncReportCommand{},
	&SyncSitesCommand{},
	&MigrateCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Cleanup error: %v", err)
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// SyncReportCommand pulls one report method for one or all sites
type SyncReportCommand struct{}

func (c *SyncReportCommand) Name() string { return "sync-report" }

func (c *SyncReportCommand) Description() string {
	return "Fetches a report for one site or all active sites"
}

func (c *SyncReportCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	method := tongji.MethodTrendTime
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		method = args[0]
		args = args[1:]
	}
	if _, known := tongji.ReportMethods[method]; !known {
		return fmt.Errorf("unknown report method %q, see 'help' for the catalog", method)
	}

	fs := flag.NewFlagSet("sync-report", flag.ContinueOnError)
	siteID := fs.String("site-id", "", "sync only this site (all active sites if empty)")
	startRaw := fs.String("start-date", "", "range start, YYYY-MM-DD (default: 7 days ago)")
	endRaw := fs.String("end-date", "", "range end, YYYY-MM-DD (default: today)")
	paramsRaw := fs.String("params", "", "extra request params as a JSON object")
	force := fs.Bool("force", false, "sync even when the access token looks expired")
	if err := fs.Parse(args); err != nil {
		return err
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -app.Config.SyncWindowDays)
	var err error
	if *startRaw != "" {
		if start, err = time.ParseInLocation(dateLayout, *startRaw, time.UTC); err != nil {
			return fmt.Errorf("invalid -start-date %q, expected YYYY-MM-DD", *startRaw)
		}
	}
	if *endRaw != "" {
		if end, err = time.ParseInLocation(dateLayout, *endRaw, time.UTC); err != nil {
			return fmt.Errorf("invalid -end-date %q, expected YYYY-MM-DD", *endRaw)
		}
	}
	if start.After(end) {
		return fmt.Errorf("start date %s is after end date %s",
			start.Format(dateLayout), end.Format(dateLayout))
	}

	var extraParams map[string]any
	if *paramsRaw != "" {
		if err := json.Unmarshal([]byte(*paramsRaw), &extraParams); err != nil {
			return fmt.Errorf("-params must be a JSON object: %w", err)
		}
	}

	db := app.DBManager.GetConnection()
	client := tongji.NewClient(app.Config.APIBaseURL, app.Config.HTTPTimeout(), app.Logger)
	syncService := reports.NewSyncService(db, client, app.Logger)

	if *siteID != "" {
		site, err := sites.FindBySiteID(db, *siteID)
		if err != nil {
			return err
		}
		owner, err := users.FindByID(db, site.UserID)
		if err != nil {
			return fmt.Errorf("failed to resolve owner of site %s: %w", site.SiteID, err)
		}

		outcome, err := syncService.SyncSite(ctx, owner, site.SiteID, method, start, end, extraParams, *force)
		if err != nil {
			return err
		}
		switch outcome {
		case reports.SiteUnchanged:
			log.Printf("Site %s: data unchanged", site.SiteID)
		case reports.SiteSkipped:
			log.Printf("Site %s: skipped", site.SiteID)
		default:
			log.Printf("Site %s: synced", site.SiteID)
		}
		return nil
	}

	allSites, err := sites.AllSites(db)
	if err != nil {
		return err
	}
	var activeSites []sites.Site
	for _, site := range allSites {
		if site.Status == sites.StatusActive {
			activeSites = append(activeSites, site)
		}
	}
	if len(activeSites) == 0 {
		log.Println("No active sites to sync")
		return nil
	}

	summary := syncService.SyncAllSites(ctx, activeSites, method, start, end, extraParams, *force)
	for _, msg := range summary.Messages {
		log.Println(msg)
	}
	log.Printf("Synced %d/%d sites (%d skipped, %d failed)",
		summary.Succeeded, summary.Total, summary.Skipped, summary.Failed)
	return summary.Err()
}

// SyncSitesCommand refreshes the site registry from the provider
type SyncSitesCommand struct{}

func (c *SyncSitesCommand) Name() string { return "sync-sites" }

func (c *SyncSitesCommand) Description() string {
	return "Refreshes the site list for one user or all users"
}

func (c *SyncSitesCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("sync-sites", flag.ContinueOnError)
	userUID := fs.String("user-id", "", "sync only this provider account (all users if empty)")
	force := fs.Bool("force", false, "sync even when the access token looks expired")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db := app.DBManager.GetConnection()
	client := tongji.NewClient(app.Config.APIBaseURL, app.Config.HTTPTimeout(), app.Logger)
	syncService := sites.NewSyncService(db, client, app.Logger)

	if *userUID != "" {
		user, err := users.FindByBaiduUID(db, *userUID)
		if err != nil {
			return fmt.Errorf("user %s not found: %w", *userUID, err)
		}
		if !*force && user.IsTokenExpired() {
			return fmt.Errorf("access token for user %s is expired, re-authorize or use -force", *userUID)
		}
		synced, err := syncService.SyncUserSites(ctx, user)
		if err != nil {
			return err
		}
		log.Printf("Synced %d sites for user %s", len(synced), *userUID)
		return nil
	}

	allUsers, err := users.AllUsers(db)
	if err != nil {
		return err
	}
	if len(allUsers) == 0 {
		log.Println("No users registered")
		return nil
	}

	summary := syncService.SyncAllUsers(ctx, allUsers, *force)
	for _, msg := range summary.Messages {
		log.Println(msg)
	}
	log.Printf("Synced site lists for %d/%d users (%d skipped, %d failed)",
		summary.Succeeded, summary.Total, summary.Skipped, summary.Failed)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d users failed to sync", summary.Failed, summary.Total)
	}
	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	var userCount, siteCount, rawCount, factCount int64
	if err := db.Model(&users.User{}).Count(&userCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	db.Model(&sites.Site{}).Count(&siteCount)
	db.Model(&reports.RawReport{}).Count(&rawCount)
	db.Model(&reports.FactTrafficTrend{}).Count(&factCount)

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Users: %d", userCount)
	log.Printf("- Sites: %d", siteCount)
	log.Printf("- Raw reports: %d", rawCount)
	log.Printf("- Fact rows: %d", factCount)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fmt.Println("Usage: tongjictl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	fmt.Println("Report methods for sync-report:")
	for method, label := range tongji.ReportMethods {
		fmt.Printf("  %s: %s\n", method, label)
	}

	return nil
}

// Helper functions

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	fmt.Println("Usage: tongjictl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
	os.Exit(1)
}

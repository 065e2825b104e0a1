package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opentranslator/client/internal/archive"
	"github.com/opentranslator/client/internal/balance"
	"github.com/opentranslator/client/internal/bridge"
	"github.com/opentranslator/client/internal/document"
	"github.com/opentranslator/client/internal/health"
	"github.com/opentranslator/client/internal/history"
	"github.com/opentranslator/client/internal/poller"
)

// cmdRun submits a document and polls it to completion
func (a *app) cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	from := fs.String("from", "", "source language code")
	to := fs.String("to", "", "target language code")
	out := fs.String("out", "text", "output format: text, pdf or docx")
	output := fs.String("output", "", "output file path (derived from the input when empty)")
	drive := fs.Bool("drive", false, "also save the export to the cloud drive")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("run needs exactly one file argument")
	}
	path := fs.Arg(0)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat document: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := a.newPoller()
	job, err := p.Start(ctx, document.Upload{
		FileName:   filepath.Base(path),
		Content:    file,
		Size:       info.Size(),
		SourceLang: *from,
		TargetLang: *to,
	})
	if err != nil {
		return err
	}
	fmt.Printf("submitted %s as %s\n", job.FileName, job.ProcessID)
	a.jobs.Save(ctx, history.FromJob(job))

	final, err := a.watch(ctx, p)
	if err != nil {
		return err
	}
	if final.Status != document.StatusCompleted {
		if final.Error != "" {
			return fmt.Errorf("translation %s: %s", final.Status, final.Error)
		}
		return fmt.Errorf("translation ended as %s", final.Status)
	}

	return a.export(ctx, final, *out, *output, *drive)
}

// cmdResume reattaches to a translation from a previous run
func (a *app) cmdResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	out := fs.String("out", "text", "output format: text, pdf or docx")
	output := fs.String("output", "", "output file path")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec history.Record
	var err error
	if fs.NArg() > 0 {
		rec, err = a.jobs.Get(ctx, fs.Arg(0))
	} else {
		rec, err = a.jobs.LatestActive(ctx)
	}
	if err != nil {
		if errors.Is(err, history.ErrJobNotFound) {
			return errors.New("nothing to resume; run 'translate history' to see past jobs")
		}
		return err
	}

	p := a.newPoller()
	job, err := p.Attach(ctx, rec.ProcessID, rec.FileName, rec.SourceLang, rec.TargetLang)
	if err != nil {
		return err
	}
	fmt.Printf("resumed %s (%s)\n", job.FileName, job.ProcessID)

	final, err := a.watch(ctx, p)
	if err != nil {
		return err
	}
	if final.Status != document.StatusCompleted {
		if final.Error != "" {
			return fmt.Errorf("translation %s: %s", final.Status, final.Error)
		}
		return fmt.Errorf("translation ended as %s", final.Status)
	}

	return a.export(ctx, final, *out, *output, false)
}

// watch renders poll events until the job reaches a terminal state and
// persists each update to history. A cancelled context cancels the job.
func (a *app) watch(ctx context.Context, p *poller.Poller) (poller.Job, error) {
	ctxDone := ctx.Done()

	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			fmt.Fprintln(os.Stderr, "\ncancelling...")
			p.Cancel()

		case evt := <-p.Events():
			a.renderEvent(evt)
			a.jobs.Save(context.Background(), history.FromJob(evt.Job))

		case <-p.Done():
			// Drain events emitted just before completion
			for {
				select {
				case evt := <-p.Events():
					a.renderEvent(evt)
					a.jobs.Save(context.Background(), history.FromJob(evt.Job))
					continue
				default:
				}
				break
			}
			job, _ := p.Snapshot()
			return job, nil
		}
	}
}

func (a *app) renderEvent(evt poller.Event) {
	switch evt.Type {
	case poller.EventStatus:
		suffix := ""
		if evt.Job.Estimated {
			suffix = " (estimated)"
		}
		if evt.Job.TotalPages > 0 {
			fmt.Printf("  %s %3d%%  page %d/%d%s\n",
				evt.Job.Status, evt.Job.Progress, evt.Job.CurrentPage, evt.Job.TotalPages, suffix)
		} else {
			fmt.Printf("  %s %3d%%%s\n", evt.Job.Status, evt.Job.Progress, suffix)
		}
	case poller.EventStallWarning, poller.EventStuckWarning, poller.EventConnectionLost:
		fmt.Fprintf(os.Stderr, "  warning: %s\n", evt.Message)
	case poller.EventCompleted:
		fmt.Println("  completed")
	case poller.EventFailed:
		fmt.Fprintf(os.Stderr, "  failed: %s\n", evt.Message)
	case poller.EventCancelled:
		fmt.Fprintln(os.Stderr, "  cancelled")
	}
}

// export writes the finished translation in the requested format and
// optionally mirrors it to the cloud drive and the archive.
func (a *app) export(ctx context.Context, job poller.Job, format, outPath string, drive bool) error {
	base := strings.TrimSuffix(job.FileName, filepath.Ext(job.FileName))

	if format == "text" {
		if outPath == "" {
			outPath = base + "_" + job.TargetLang + ".txt"
		}
		if err := os.WriteFile(outPath, []byte(job.TranslatedText), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Printf("wrote %s\n", outPath)
		return nil
	}

	req := document.ExportRequest{
		Text:     job.TranslatedText,
		FileName: base + "_" + job.TargetLang,
	}

	var file *document.ExportedFile
	var err error
	switch format {
	case "pdf":
		file, err = a.docs.ExportPDF(ctx, req)
	case "docx":
		file, err = a.docs.ExportDocx(ctx, req)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return err
	}

	if outPath == "" {
		outPath = req.FileName + "." + format
	}
	if err := os.WriteFile(outPath, file.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("wrote %s\n", outPath)

	if drive {
		var df *document.DriveFile
		if format == "pdf" {
			df, err = a.docs.ExportToDriveAsPDF(ctx, req)
		} else {
			df, err = a.docs.ExportToDriveAsDocx(ctx, req)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "drive export failed: %v\n", err)
		} else {
			fmt.Printf("saved to drive: %s\n", df.WebViewLink)
		}
	}

	a.archiveExport(ctx, job.ProcessID, file)
	return nil
}

// archiveExport mirrors the export to object storage when configured.
// Failures are logged, never fatal.
func (a *app) archiveExport(ctx context.Context, processID string, file *document.ExportedFile) {
	cfg := archive.Config{
		Endpoint:  a.cfg.ArchiveEndpoint,
		AccessKey: a.cfg.ArchiveAccessKey,
		SecretKey: a.cfg.ArchiveSecretKey,
		Bucket:    a.cfg.ArchiveBucket,
		UseSSL:    a.cfg.ArchiveUseSSL,
	}
	if !cfg.Enabled() {
		return
	}

	client, err := archive.New(ctx, cfg)
	if err != nil {
		a.log.Warn(ctx, "archive unavailable", map[string]any{"error": err.Error()})
		return
	}
	key, err := client.Store(ctx, processID, *file)
	if err != nil {
		a.log.Warn(ctx, "archive upload failed", map[string]any{"error": err.Error()})
		return
	}
	fmt.Printf("archived as %s\n", key)
}

// cmdServe runs the local progress bridge, reattaching to the most recent
// active job when one exists.
func (a *app) cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", a.cfg.BridgeAddr, "bridge listen address")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := a.newPoller()
	if rec, err := a.jobs.LatestActive(ctx); err == nil {
		if _, err := p.Attach(ctx, rec.ProcessID, rec.FileName, rec.SourceLang, rec.TargetLang); err == nil {
			fmt.Printf("reattached to %s\n", rec.ProcessID)
		}
	}

	hub := bridge.NewHub()
	go hub.Run()
	defer hub.Stop()
	go hub.Relay(p.Events())

	server := bridge.NewServer(*addr, hub, p)
	go func() {
		<-ctx.Done()
		p.Cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("bridge listening on %s\n", *addr)
	return server.ListenAndServe()
}

// cmdHistory lists recent translations
func (a *app) cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of entries to show")
	fs.Parse(args)

	records, err := a.jobs.ListRecent(context.Background(), *limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no translations yet")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%-36s  %-12s %3d%%  %s -> %s  %s\n",
			rec.ProcessID, rec.Status, rec.Progress,
			rec.SourceLang, rec.TargetLang, rec.FileName)
	}
	return nil
}

// cmdBalance prints the current page balance
func (a *app) cmdBalance(args []string) error {
	svc := balance.NewService(a.api, a.provider.ForceRefresh)
	snap, err := svc.GetBalance(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("balance: %d  used: %d  remaining: %d\n",
		snap.PagesBalance, snap.PagesUsed, snap.Remaining())
	if snap.LastUsed != "" {
		fmt.Printf("last used: %s\n", snap.LastUsed)
	}
	if snap.Source != "me" {
		fmt.Printf("(read from the %s endpoint; values may be stale)\n", snap.Source)
	}
	return nil
}

// cmdAddPages credits pages to the account
func (a *app) cmdAddPages(args []string) error {
	if len(args) != 1 {
		return errors.New("add-pages needs a page count")
	}
	pages, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid page count %q", args[0])
	}

	svc := balance.NewService(a.api, a.provider.ForceRefresh)
	snap, err := svc.AddPages(context.Background(), pages)
	if err != nil {
		return err
	}
	fmt.Printf("added %d pages; remaining: %d\n", pages, snap.Remaining())
	return nil
}

// cmdBuy purchases pages and prints the invoice details
func (a *app) cmdBuy(args []string) error {
	fs := flag.NewFlagSet("buy", flag.ExitOnError)
	email := fs.String("email", "", "billing email for the invoice")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("buy needs a page count")
	}
	pages, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid page count %q", fs.Arg(0))
	}

	svc := balance.NewService(a.api, a.provider.ForceRefresh)
	payment, err := svc.PurchasePages(context.Background(), pages, *email)
	if err != nil {
		return err
	}

	fmt.Printf("order %s: %d pages for %.2f\n", payment.OrderID, payment.Pages, payment.Amount)
	fmt.Printf("pay to: %s\n", payment.BankAccount)
	return nil
}

// cmdHealth probes the client's dependencies and prints the report
func (a *app) cmdHealth(args []string) error {
	ctx := context.Background()

	cfg := &health.CheckerConfig{
		API:         a.api,
		IdentityURL: a.cfg.IdentityURL,
		HistoryDB:   a.jobs.DB(),
	}
	if a.redis != nil {
		cfg.Redis = a.redis.Client()
	}

	archiveCfg := archive.Config{
		Endpoint:  a.cfg.ArchiveEndpoint,
		AccessKey: a.cfg.ArchiveAccessKey,
		SecretKey: a.cfg.ArchiveSecretKey,
		Bucket:    a.cfg.ArchiveBucket,
		UseSSL:    a.cfg.ArchiveUseSSL,
	}
	if archiveCfg.Enabled() {
		if client, err := archive.New(ctx, archiveCfg); err == nil {
			cfg.ArchiveCheck = client.Check
		}
	}

	report := health.NewChecker(cfg).Check(ctx)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if report.Status == health.StatusUnhealthy {
		os.Exit(1)
	}
	return nil
}

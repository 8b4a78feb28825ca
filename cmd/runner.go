package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mkdw/soulsync/internal/events"
	"github.com/mkdw/soulsync/internal/formatter"
	"github.com/mkdw/soulsync/internal/library"
	"github.com/mkdw/soulsync/internal/matching"
	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/repositories"
	"github.com/mkdw/soulsync/internal/resolver"
	"github.com/mkdw/soulsync/internal/scanning"
	"github.com/mkdw/soulsync/internal/services"
	"github.com/mkdw/soulsync/internal/shared"
	"github.com/mkdw/soulsync/internal/tasks"
	"github.com/mkdw/soulsync/internal/verify"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides a method for
// each command action. External collaborators are lazily constructed from
// config; tests inject doubles through RunnerOpts.
type Runner struct {
	config *shared.Config
	logger *log.Logger
	output io.Writer

	catalog services.Catalog
	youtube services.YouTubeIngest
	media   services.MediaServer
	daemon  tasks.Daemon
	db      *sql.DB
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config  *shared.Config
	Logger  *log.Logger
	Output  io.Writer
	Catalog services.Catalog
	YouTube services.YouTubeIngest
	Media   services.MediaServer
	Daemon  tasks.Daemon
	DB      *sql.DB
}

// NewRunner creates a new Runner with the provided options.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{
		config:  opts.Config,
		logger:  opts.Logger,
		output:  opts.Output,
		catalog: opts.Catalog,
		youtube: opts.YouTube,
		media:   opts.Media,
		daemon:  opts.Daemon,
		db:      opts.DB,
	}
}

// register returns the full command tree.
func (r *Runner) register() []*cli.Command {
	return []*cli.Command{
		syncCommand(r),
		analyzeCommand(r),
		wishlistCommand(r),
		setupCommand(r),
		configCommand(r),
	}
}

// reloadConfig re-reads the config file named by --config when it exists.
func (r *Runner) reloadConfig(cmd *cli.Command) {
	path := shared.ResolveConfigPath(cmd.String("config"))
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if cfg, err := shared.LoadConfig(path); err == nil {
		r.config = cfg
	} else {
		r.logger.Warn("failed to reload config", "path", path, "error", err)
	}
}

func (r *Runner) openDB() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	r.db = db
	return db, nil
}

func (r *Runner) catalogClient(ctx context.Context) (services.Catalog, error) {
	if r.catalog != nil {
		return r.catalog, nil
	}
	c, err := services.NewCatalogClient(ctx, r.config.Catalog, "")
	if err != nil {
		return nil, err
	}
	r.catalog = c
	return c, nil
}

func (r *Runner) youtubeClient() services.YouTubeIngest {
	if r.youtube == nil {
		r.youtube = services.NewYouTubeClient(r.config.YouTube.BaseURL, nil)
	}
	return r.youtube
}

func (r *Runner) mediaServer() (services.MediaServer, error) {
	if r.media != nil {
		return r.media, nil
	}
	m, err := services.NewMediaServer(r.config.MediaServer, nil)
	if err != nil {
		return nil, err
	}
	r.media = m
	return m, nil
}

func (r *Runner) transferDaemon() tasks.Daemon {
	if r.daemon == nil {
		r.daemon = services.NewSlskdClient(r.config.Slskd, nil, r.logger)
	}
	return r.daemon
}

func (r *Runner) syncStatusStore() *repositories.SyncStatusStore {
	return repositories.NewSyncStatusStore(filepath.Join(r.config.Storage.Dir, "sync_status.json"))
}

// Setup creates the config file if missing, initializes the database, and
// creates the downloads and storage directories.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	path := shared.ResolveConfigPath(cmd.String("config"))
	if err := shared.CreateConfigFile(path); err != nil {
		r.logger.Info("config file not created", "path", path, "reason", err)
	} else {
		fmt.Fprintf(r.output, "Created %s; fill in your credentials.\n", path)
	}
	r.reloadConfig(cmd)

	db, err := r.openDB()
	if err != nil {
		return fmt.Errorf("database setup failed: %w", err)
	}

	// Persist the effective config blob so other tooling can read it back.
	blob, err := json.MarshalIndent(r.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	meta := repositories.NewMetadataStore(db, filepath.Join(r.config.Storage.Dir, "config"))
	if err := meta.SaveAppConfig(ctx, string(blob)); err != nil {
		r.logger.Warn("failed to persist app config", "error", err)
	}

	for _, dir := range []string{r.config.Downloads.Directory, r.config.Storage.Dir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	fmt.Fprintln(r.output, "Database initialized and migrations applied.")
	return nil
}

// ConfigShow prints the effective configuration with secrets redacted.
func (r *Runner) ConfigShow(ctx context.Context, cmd *cli.Command) error {
	r.reloadConfig(cmd)
	cfg := *r.config

	redact := func(s string) string {
		if s == "" {
			return "(unset)"
		}
		return "(set)"
	}

	fmt.Fprintf(r.output, "catalog.client_id      %s\n", redact(cfg.Catalog.ClientID))
	fmt.Fprintf(r.output, "catalog.client_secret  %s\n", redact(cfg.Catalog.ClientSecret))
	fmt.Fprintf(r.output, "youtube.base_url       %s\n", cfg.YouTube.BaseURL)
	fmt.Fprintf(r.output, "media_server.kind      %s\n", cfg.MediaServer.Kind)
	fmt.Fprintf(r.output, "media_server.base_url  %s\n", cfg.MediaServer.BaseURL)
	fmt.Fprintf(r.output, "media_server.token     %s\n", redact(cfg.MediaServer.Token))
	fmt.Fprintf(r.output, "slskd.base_url         %s\n", cfg.Slskd.BaseURL)
	fmt.Fprintf(r.output, "slskd.api_key          %s\n", redact(cfg.Slskd.APIKey))
	fmt.Fprintf(r.output, "acoustid.enabled       %t\n", cfg.AcoustID.Enabled)
	fmt.Fprintf(r.output, "acoustid.api_key       %s\n", redact(cfg.AcoustID.APIKey))
	fmt.Fprintf(r.output, "downloads.directory    %s\n", cfg.Downloads.Directory)
	fmt.Fprintf(r.output, "downloads.quality      %s\n", cfg.Downloads.Quality)
	fmt.Fprintf(r.output, "database.path          %s\n", cfg.Database.Path)
	fmt.Fprintf(r.output, "storage.dir            %s\n", cfg.Storage.Dir)
	return nil
}

// SyncStatus lists catalog playlists alongside their recorded sync state.
func (r *Runner) SyncStatus(ctx context.Context, cmd *cli.Command) error {
	r.reloadConfig(cmd)
	catalog, err := r.catalogClient(ctx)
	if err != nil {
		return err
	}

	playlists, err := catalog.ListPlaylists(ctx)
	if err != nil {
		return fmt.Errorf("failed to list playlists: %w", err)
	}

	store := r.syncStatusStore()
	statuses := make(map[string]models.SyncState, len(playlists))
	for _, p := range playlists {
		state, err := store.Status(p.ID, p.SnapshotID)
		if err != nil {
			return err
		}
		statuses[p.ID] = state
	}

	fmt.Fprint(r.output, formatter.RenderPlaylists(playlists, statuses))
	return nil
}

// Analyze compares a playlist against the local library and reports the
// missing set without downloading anything.
func (r *Runner) Analyze(ctx context.Context, cmd *cli.Command) error {
	r.reloadConfig(cmd)

	playlist, err := r.fetchPlaylist(ctx, cmd.String("playlist"), "")
	if err != nil {
		return err
	}

	results, err := r.analyzePlaylist(ctx, playlist, nil)
	if err != nil {
		return err
	}

	fmt.Fprint(r.output, formatter.RenderAnalysis(results))

	if path := cmd.String("csv"); path != "" {
		if err := formatter.ExportMissingCSV(results, path); err != nil {
			return err
		}
		fmt.Fprintf(r.output, "Missing tracks written to %s\n", path)
	}
	return nil
}

// SyncRun runs the full pipeline: fetch, analyze, acquire, verify, record.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	r.reloadConfig(cmd)

	playlist, err := r.fetchPlaylist(ctx, cmd.String("playlist"), cmd.String("from-youtube"))
	if err != nil {
		return err
	}

	bus := events.NewBus(0)
	defer bus.Close()
	stopPrinter := r.printEvents(bus)
	defer stopPrinter()

	results, err := r.analyzePlaylist(ctx, playlist, bus)
	if err != nil {
		return err
	}
	missing := library.Missing(results)
	fmt.Fprint(r.output, formatter.RenderAnalysis(results))

	if cmd.Bool("dry-run") {
		return nil
	}

	// A fully-matched playlist still falls through: zero dispatches, but the
	// write-back and the sync record happen on every non-dry run.
	var runErr error
	if len(missing) > 0 {
		tracks := make([]models.Track, len(missing))
		for i, m := range missing {
			tracks[i] = m.Track
		}

		var summary *tasks.RunSummary
		summary, runErr = r.acquire(ctx, tracks, bus, acquireOpts{
			noVerify:   cmd.Bool("no-verify"),
			sourceType: models.WishlistFromPlaylist,
			sourceCtx:  models.WishlistSourceContext{Name: playlist.Name, ID: playlist.ID},
		})
		if summary != nil {
			fmt.Fprint(r.output, formatter.RenderRunSummary(*summary))
		}
	}

	r.writeBackPlaylist(ctx, playlist, results)

	// The sync record is written even when acquisition or write-back failed.
	if err := r.syncStatusStore().Record(playlist.ID, models.SyncRecord{
		Name:       playlist.Name,
		Owner:      playlist.Owner,
		SnapshotID: playlist.SnapshotID,
	}); err != nil {
		r.logger.Warn("failed to record sync status", "playlist", playlist.Name, "error", err)
	}

	return runErr
}

// WishlistList shows every wishlisted track.
func (r *Runner) WishlistList(ctx context.Context, cmd *cli.Command) error {
	r.reloadConfig(cmd)
	db, err := r.openDB()
	if err != nil {
		return err
	}

	entries, err := repositories.NewWishlistStore(db).List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(r.output, formatter.RenderWishlist(entries))
	return nil
}

// WishlistResolve removes a track from the wishlist by title and artist.
func (r *Runner) WishlistResolve(ctx context.Context, cmd *cli.Command) error {
	r.reloadConfig(cmd)
	db, err := r.openDB()
	if err != nil {
		return err
	}

	track := models.Track{Title: cmd.String("title"), Artists: []string{cmd.String("artist")}}
	normTitle, normArtist := repositories.WishlistKey(track)
	if err := repositories.NewWishlistStore(db).Resolve(ctx, normTitle, normArtist); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "Resolved %s - %s\n", track.PrimaryArtist(), track.Title)
	return nil
}

// WishlistRetry re-runs acquisition for every wishlisted track, resolving the
// entries that complete.
func (r *Runner) WishlistRetry(ctx context.Context, cmd *cli.Command) error {
	r.reloadConfig(cmd)
	db, err := r.openDB()
	if err != nil {
		return err
	}
	store := repositories.NewWishlistStore(db)

	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.output, "Wishlist is empty.")
		return nil
	}

	tracks := make([]models.Track, len(entries))
	for i, e := range entries {
		tracks[i] = e.Track
		normTitle, normArtist := repositories.WishlistKey(e.Track)
		if err := store.Bump(ctx, normTitle, normArtist); err != nil {
			r.logger.Warn("failed to bump wishlist entry", "track", e.Track.Title, "error", err)
		}
	}

	bus := events.NewBus(0)
	defer bus.Close()
	stopPrinter := r.printEvents(bus)
	defer stopPrinter()

	// Resolve entries as their tracks complete.
	ch, cancel := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Type != events.TrackCompleted {
				continue
			}
			d, ok := ev.Payload.(models.ActiveDownload)
			if !ok {
				continue
			}
			normTitle, normArtist := repositories.WishlistKey(d.Track)
			if err := store.Resolve(context.Background(), normTitle, normArtist); err != nil {
				r.logger.Warn("failed to resolve wishlist entry", "track", d.Track.Title, "error", err)
			}
		}
	}()

	summary, runErr := r.acquire(ctx, tracks, bus, acquireOpts{
		noVerify:   cmd.Bool("no-verify"),
		sourceType: models.WishlistFromPlaylist,
		sourceCtx:  models.WishlistSourceContext{Name: "wishlist retry"},
	})
	cancel()
	<-done

	if summary != nil {
		fmt.Fprint(r.output, formatter.RenderRunSummary(*summary))
	}
	return runErr
}

// fetchPlaylist resolves the source playlist: a YouTube URL routed through the
// external-id resolver, or a catalog playlist referenced by id or name.
func (r *Runner) fetchPlaylist(ctx context.Context, ref, youtubeURL string) (*models.Playlist, error) {
	catalog, err := r.catalogClient(ctx)
	if err != nil {
		return nil, err
	}

	if youtubeURL != "" {
		playlist, err := r.youtubeClient().FetchPlaylist(ctx, youtubeURL)
		if err != nil {
			return nil, fmt.Errorf("failed to ingest YouTube playlist: %w", err)
		}

		res := resolver.New(catalog, resolver.Opts{Logger: r.logger})
		resolutions, err := res.ResolveAll(ctx, playlist.Tracks)
		if err != nil {
			return nil, err
		}
		resolved := resolver.Resolved(resolutions)
		if dropped := len(playlist.Tracks) - len(resolved); dropped > 0 {
			r.logger.Warn("some YouTube tracks could not be resolved to catalog tracks", "dropped", dropped)
		}
		playlist.Tracks = resolved
		return playlist, nil
	}

	if ref == "" {
		return nil, fmt.Errorf("%w: --playlist or --from-youtube", shared.ErrMissingArgument)
	}

	playlists, err := catalog.ListPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	for _, p := range playlists {
		if p.ID == ref || strings.EqualFold(p.Name, ref) {
			return catalog.GetPlaylist(ctx, p.ID)
		}
	}

	// Unlisted playlists are still addressable by id.
	if playlist, err := catalog.GetPlaylist(ctx, ref); err == nil {
		return playlist, nil
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, ref)
}

// writeBackPlaylist mirrors the playlist onto the media server using the
// library ids of the tracks that matched, backing up any previous contents.
func (r *Runner) writeBackPlaylist(ctx context.Context, playlist *models.Playlist, results []library.TrackAnalysis) {
	media, err := r.mediaServer()
	if err != nil {
		return
	}

	var ids []string
	for _, res := range results {
		if res.InLibrary && res.Match != nil {
			ids = append(ids, res.Match.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	backup := playlist.Name + " (backup)"
	if err := media.CreateOrUpdatePlaylist(ctx, playlist.Name, ids, backup); err != nil {
		r.logger.Warn("playlist write-back failed", "playlist", playlist.Name, "error", err)
	}
}

// analyzePlaylist loads the library index and runs the existence analysis.
func (r *Runner) analyzePlaylist(ctx context.Context, playlist *models.Playlist, bus *events.Bus) ([]library.TrackAnalysis, error) {
	media, err := r.mediaServer()
	if err != nil {
		return nil, err
	}
	if !media.IsConnected(ctx) {
		return nil, fmt.Errorf("%w: media server %s at %s", shared.ErrServiceUnavailable,
			r.config.MediaServer.Kind, r.config.MediaServer.BaseURL)
	}

	index := library.NewIndex(r.logger)
	if err := index.Load(ctx, media); err != nil {
		return nil, err
	}

	analyzer := library.NewAnalyzer(index, library.AnalyzerOpts{Bus: bus, Logger: r.logger})
	return analyzer.Run(ctx, playlist.Tracks)
}

type acquireOpts struct {
	noVerify   bool
	sourceType models.WishlistSourceType
	sourceCtx  models.WishlistSourceContext
}

// acquire runs the download engine over the missing set with the full
// supporting cast: wishlist store, fingerprint verifier, scan coordinator.
func (r *Runner) acquire(ctx context.Context, missing []models.Track, bus *events.Bus, opts acquireOpts) (*tasks.RunSummary, error) {
	db, err := r.openDB()
	if err != nil {
		return nil, err
	}
	wishlist := repositories.NewWishlistStore(db)

	var verifier tasks.FileVerifier
	if r.config.AcoustID.Enabled && !opts.noVerify {
		v, err := r.buildVerifier(ctx)
		if err != nil {
			r.logger.Warn("fingerprint verification unavailable", "error", err)
		} else {
			verifier = v
		}
	}

	var scans tasks.ScanRequester
	if media, err := r.mediaServer(); err == nil {
		coordinator := scanning.NewCoordinator(media, scanning.Opts{Logger: r.logger})
		// Fire any pending debounced scan before the process exits.
		defer coordinator.Close()
		defer coordinator.Flush()
		scans = coordinator
	}

	engine := tasks.NewEngine(r.transferDaemon(), verifier, wishlist, scans, bus, r.logger, tasks.EngineOpts{
		MaxConcurrent: r.config.Downloads.MaxConcurrent,
		DownloadsDir:  r.config.Downloads.Directory,
		Quality:       matching.ParseQualityPreference(r.config.Downloads.Quality),
		SourceType:    opts.sourceType,
		SourceContext: opts.sourceCtx,
	})
	return engine.RunAcquisition(ctx, missing)
}

// buildVerifier resolves fpcalc and constructs the fingerprint verifier.
func (r *Runner) buildVerifier(ctx context.Context) (*verify.Verifier, error) {
	binDir := filepath.Join(r.config.Storage.Dir, "bin")
	fpcalc, err := verify.EnsureFpcalc(ctx, r.config.AcoustID.FpcalcPath, binDir)
	if err != nil {
		return nil, err
	}

	lookup := services.NewAcoustIDClient(r.config.AcoustID.APIKey, "", nil)
	return verify.New(lookup, verify.Opts{
		Enabled:     true,
		FpcalcPath:  fpcalc,
		DownloadDir: r.config.Downloads.Directory,
		Logger:      r.logger,
	}), nil
}

// printEvents subscribes a progress printer to the bus. The returned stop
// function unsubscribes and waits for the printer to drain.
func (r *Runner) printEvents(bus *events.Bus) func() {
	ch, cancel := bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Type {
			case events.TrackAnalyzed, events.SearchIssued:
				r.logger.Debug(ev.Message)
			case events.Dispatched, events.Verified, events.ScanRequested:
				r.logger.Info(ev.Message)
			case events.TrackCompleted:
				r.logger.Info(ev.Message)
			case events.TrackFailed, events.RunFailed:
				r.logger.Error(ev.Message)
			case events.TrackCancelled:
				r.logger.Warn(ev.Message)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

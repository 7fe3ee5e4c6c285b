package puller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/zita-photo/zita/agent/internal/config"
	"github.com/zita-photo/zita/pkg/atomicfile"
	"github.com/zita-photo/zita/pkg/codec"
)

const (
	exportPath  = "/api/v1/export/"
	metricsPath = "/metrics"

	// maxExportBytes caps a single download.
	maxExportBytes = 256 << 20
)

// ErrTooLarge is returned when an export exceeds maxExportBytes.
var ErrTooLarge = errors.New("export too large")

// Result is the outcome of pulling one target.
type Result struct {
	Target  config.Target
	Photos  int
	Written bool
	Err     error
}

// Puller mirrors server exports to local files.
type Puller struct {
	mu     sync.Mutex
	cfg    config.AgentConfig
	client *http.Client

	// fingerprint of the server's write counters at the last fully
	// successful sync; valid only when haveFP is set.
	lastFP float64
	haveFP bool
}

// New builds a Puller and its HTTP client from cfg.
func New(cfg config.AgentConfig) (*Puller, error) {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("puller: build http client: %w", err)
	}
	return &Puller{cfg: cfg, client: client}, nil
}

// Update swaps in a reloaded configuration. The next Sync pulls every target.
func (p *Puller) Update(cfg config.AgentConfig) error {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return fmt.Errorf("puller: build http client: %w", err)
	}
	p.mu.Lock()
	p.cfg = cfg
	p.client = client
	p.haveFP = false
	p.mu.Unlock()
	return nil
}

func (p *Puller) snapshot() (config.AgentConfig, *http.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg, p.client
}

// Sync pulls every target once. It returns skipped=true without touching the
// network beyond the metrics probe when the server reports no writes since
// the last successful sync and every output file is still present.
func (p *Puller) Sync(ctx context.Context) (results []Result, skipped bool) {
	cfg, client := p.snapshot()

	var fp float64
	probed := false
	if cfg.ChangeProbe {
		v, err := probe(ctx, client, cfg.ServerURL+metricsPath)
		if err != nil {
			slog.Debug("puller: change probe failed, pulling anyway", "err", err)
		} else {
			fp, probed = v, true
			p.mu.Lock()
			same := p.haveFP && p.lastFP == fp
			p.mu.Unlock()
			if same && outputsPresent(cfg.Targets) {
				return nil, true
			}
		}
	}

	ok := true
	results = make([]Result, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		res := pull(ctx, client, cfg.ServerURL, t)
		if res.Err != nil {
			ok = false
		}
		results = append(results, res)
	}

	p.mu.Lock()
	p.lastFP, p.haveFP = fp, probed && ok
	p.mu.Unlock()
	return results, false
}

// Run calls Sync immediately and then every SyncInterval until ctx is done.
// A reloaded interval takes effect after the current tick.
func (p *Puller) Run(ctx context.Context) {
	interval := p.syncOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if next := p.syncOnce(ctx); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (p *Puller) syncOnce(ctx context.Context) time.Duration {
	results, skipped := p.Sync(ctx)
	if skipped {
		slog.Debug("puller: no server writes since last sync")
	}
	for _, r := range results {
		switch {
		case r.Err != nil:
			slog.Warn("puller: sync failed", "album", r.Target.EffectiveAlbum(), "output", r.Target.Output, "err", r.Err)
		case r.Written:
			slog.Info("puller: export updated", "album", r.Target.EffectiveAlbum(), "output", r.Target.Output, "photos", r.Photos)
		default:
			slog.Debug("puller: export unchanged", "album", r.Target.EffectiveAlbum(), "output", r.Target.Output)
		}
	}
	cfg, _ := p.snapshot()
	return cfg.SyncInterval
}

// ExportURL returns the server URL serving the export for t.
func ExportURL(serverURL string, t config.Target) string {
	return serverURL + exportPath + url.PathEscape(t.EffectiveAlbum()) + "." + string(t.EffectiveFormat())
}

// pull downloads one export, checks that it decodes, and writes it to the
// target's output when the content differs from what is on disk.
func pull(ctx context.Context, client *http.Client, serverURL string, t config.Target) Result {
	res := Result{Target: t}
	body, err := fetch(ctx, client, ExportURL(serverURL, t))
	if err != nil {
		res.Err = err
		return res
	}
	m, err := codec.Decode(body, t.EffectiveFormat())
	if err != nil {
		res.Err = fmt.Errorf("decode export: %w", err)
		return res
	}
	res.Photos = len(m)
	res.Written, res.Err = writeFileIfChanged(t.Output, body)
	return res
}

func fetch(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxExportBytes {
		return nil, ErrTooLarge
	}
	return body, nil
}

// writeFileIfChanged replaces path with content via a sibling work file and
// a rename, unless path already holds exactly content.
func writeFileIfChanged(path string, content []byte) (bool, error) {
	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, content) {
		return false, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := atomicfile.WriteFile(path, content, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func outputsPresent(targets []config.Target) bool {
	for _, t := range targets {
		if _, err := os.Stat(t.Output); err != nil {
			return false
		}
	}
	return true
}

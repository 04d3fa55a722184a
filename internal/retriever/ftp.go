package retriever

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"waterstack/internal/raster"
	"waterstack/internal/registry"
)

// FTPConfig describes an FTP archive mirror hosting subset files.
type FTPConfig struct {
	Addr     string // host:port
	User     string // anonymous when empty
	Password string
	Dir      string // remote directory holding subsets
}

// FTP retrieves subsets from an FTP archive. Connections are short lived:
// one dial per operation, matching the flaky public mirrors this is used
// against.
type FTP struct {
	cfg      FTPConfig
	registry *registry.Registry
}

// NewFTP creates an FTP-backed retriever.
func NewFTP(cfg FTPConfig, reg *registry.Registry) *FTP {
	if cfg.User == "" {
		cfg.User = "anonymous"
		cfg.Password = "anonymous"
	}
	return &FTP{cfg: cfg, registry: reg}
}

func (f *FTP) connect() (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(f.cfg.Addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return conn, nil
}

func (f *FTP) GetSubset(ctx context.Context, variable string, date time.Time) (g *raster.Grid, err error) {
	start := time.Now()
	defer func() { observe(variable, start, err) }()

	src := f.registry.Lookup(variable, date)
	if src == nil {
		return nil, fmt.Errorf("no %s source for %s: %w", variable, date.Format("2006-01-02"), ErrFileUnavailable)
	}

	filename := SubsetFilename(src, date)

	conn, err := f.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(path.Join(f.cfg.Dir, filename))
	if err != nil {
		var proto *textproto.Error
		if errors.As(err, &proto) && proto.Code == ftp.StatusFileUnavailable {
			return nil, fmt.Errorf("%s: %w", filename, ErrFileUnavailable)
		}
		return nil, fmt.Errorf("ftp retr %s: %w", filename, err)
	}
	defer resp.Close()

	grid, err := raster.DecodeGrid(resp)
	if err != nil {
		return nil, fmt.Errorf("decode subset %s: %w", filename, err)
	}

	return checkGrid(grid, filename)
}

func (f *FTP) Inventory(ctx context.Context) ([]time.Time, error) {
	conn, err := f.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	entries, err := conn.List(f.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("ftp list %s: %w", f.cfg.Dir, err)
	}

	var raw []time.Time
	for _, entry := range entries {
		if entry.Type != ftp.EntryTypeFile {
			continue
		}
		if d, ok := parseSubsetDate(entry.Name); ok {
			raw = append(raw, d)
		}
	}

	return relevantDates(f.registry, raw), nil
}

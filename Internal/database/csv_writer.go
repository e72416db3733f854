package datafeed

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fazecat/signalpilot/Internal/types"
)

const (
	TickTimeLayout   = "2006-01-02 15:04:05.000Z"
	CandleTimeLayout = "2006-01-02 15:04:05Z"

	DefaultTickChunkSize   = 1000
	DefaultCandleChunkSize = 500
)

var (
	tickHeader   = []string{"timestamp", "asset", "price"}
	candleHeader = []string{"timestamp", "open", "close", "high", "low"}
	partPattern  = regexp.MustCompile(`_part(\d{3,})\.csv$`)
)

type WriterConfig struct {
	Dir             string
	Session         string
	TickChunkSize   int
	CandleChunkSize int
}

// per-key rotation state
type fileState struct {
	mu        sync.Mutex
	prefix    string
	header    []string
	partIndex int
	rows      int
	chunkSize int
}

func (s *fileState) path(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_part%03d.csv", s.prefix, s.partIndex))
}

// RotatingWriter appends rows with an independent open/append/close per row
type RotatingWriter struct {
	cfg    WriterConfig
	logger *logrus.Logger

	mu     sync.Mutex
	states map[string]*fileState
}

func NewRotatingWriter(cfg WriterConfig, logger *logrus.Logger) (*RotatingWriter, error) {
	if cfg.Dir == "" {
		cfg.Dir = "data"
	}
	if cfg.Session == "" {
		cfg.Session = time.Now().UTC().Format("20060102")
	}
	if cfg.TickChunkSize <= 0 {
		cfg.TickChunkSize = DefaultTickChunkSize
	}
	if cfg.CandleChunkSize <= 0 {
		cfg.CandleChunkSize = DefaultCandleChunkSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.Dir, err)
	}
	return &RotatingWriter{
		cfg:    cfg,
		logger: logger,
		states: make(map[string]*fileState),
	}, nil
}

func (w *RotatingWriter) Session() string {
	return w.cfg.Session
}

// WriteTick appends one tick row to {asset}_{session}_partNNN.csv
func (w *RotatingWriter) WriteTick(asset string, ts time.Time, price float64) error {
	prefix := fmt.Sprintf("%s_%s", sanitizeAsset(asset), w.cfg.Session)
	row := []string{
		ts.UTC().Format(TickTimeLayout),
		asset,
		strconv.FormatFloat(price, 'f', -1, 64),
	}
	return w.append(prefix, tickHeader, w.cfg.TickChunkSize, row)
}

// WriteCandle appends one closed candle to {asset}_{tf}m_{session}_partNNN.csv
func (w *RotatingWriter) WriteCandle(asset string, timeframeMinutes int, c types.Candle) error {
	prefix := fmt.Sprintf("%s_%dm_%s", sanitizeAsset(asset), timeframeMinutes, w.cfg.Session)
	row := []string{
		c.Timestamp.UTC().Format(CandleTimeLayout),
		strconv.FormatFloat(c.Open, 'f', -1, 64),
		strconv.FormatFloat(c.Close, 'f', -1, 64),
		strconv.FormatFloat(c.High, 'f', -1, 64),
		strconv.FormatFloat(c.Low, 'f', -1, 64),
	}
	return w.append(prefix, candleHeader, w.cfg.CandleChunkSize, row)
}

func (w *RotatingWriter) state(prefix string, header []string, chunkSize int) *fileState {
	w.mu.Lock()
	defer w.mu.Unlock()

	if st, ok := w.states[prefix]; ok {
		return st
	}
	st := &fileState{
		prefix:    prefix,
		header:    header,
		partIndex: 1,
		chunkSize: chunkSize,
	}
	w.resume(st)
	w.states[prefix] = st
	return st
}

// resume continues the newest existing part left by an earlier run of the same session
func (w *RotatingWriter) resume(st *fileState) {
	matches, err := filepath.Glob(filepath.Join(w.cfg.Dir, st.prefix+"_part*.csv"))
	if err != nil || len(matches) == 0 {
		return
	}

	parts := make([]int, 0, len(matches))
	for _, m := range matches {
		sub := partPattern.FindStringSubmatch(filepath.Base(m))
		if sub == nil || !strings.HasPrefix(filepath.Base(m), st.prefix+"_part") {
			continue
		}
		if n, err := strconv.Atoi(sub[1]); err == nil {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return
	}
	sort.Ints(parts)
	st.partIndex = parts[len(parts)-1]

	rows, err := countDataRows(st.path(w.cfg.Dir))
	if err != nil {
		w.logger.WithError(err).WithField("file", st.path(w.cfg.Dir)).Warn("Could not count rows of existing part, starting a new one")
		st.partIndex++
		return
	}
	st.rows = rows
}

func (w *RotatingWriter) append(prefix string, header []string, chunkSize int, row []string) error {
	st := w.state(prefix, header, chunkSize)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.rows >= st.chunkSize {
		st.partIndex++
		st.rows = 0
	}

	path := st.path(w.cfg.Dir)
	if err := appendRow(path, st.header, row); err != nil {
		w.logger.WithFields(logrus.Fields{
			"file":  path,
			"error": err,
		}).Error("Dropping row after write failure")
		return err
	}
	st.rows++
	return nil
}

func appendRow(path string, header, row []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("failed to write header to %s: %w", path, err)
		}
	}
	if err := cw.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("failed to write row to %s: %w", path, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Close()
}

func countDataRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			lines++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if lines == 0 {
		return 0, nil
	}
	return lines - 1, nil
}

func sanitizeAsset(asset string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '-'
		}
		return r
	}, asset)
}

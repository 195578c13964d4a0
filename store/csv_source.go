package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rushteam/movierec/core"
)

// noGenres 是 MovieLens 中 "无类型" 的占位值
const noGenres = "(no genres listed)"

var yearSuffix = regexp.MustCompile(`\((\d{4})\)\s*$`)

// CSVSource 读取 MovieLens 格式的离线文件：
//
//	ratings.csv: userId,movieId,rating,timestamp（timestamp 为 unix 秒）
//	movies.csv:  movieId,title,genres（genres 以 | 分隔）
//
// 列按表头名称匹配，顺序无关；每次调用都会重新读取文件。
type CSVSource struct {
	RatingsPath string
	MoviesPath  string
}

func NewCSVSource(ratingsPath, moviesPath string) *CSVSource {
	return &CSVSource{RatingsPath: ratingsPath, MoviesPath: moviesPath}
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) Ratings(ctx context.Context) ([]core.Rating, error) {
	var out []core.Rating
	err := readCSV(ctx, s.RatingsPath, []string{"userId", "movieId", "rating"}, func(line int, col func(string) string) error {
		r, err := parseRating(col)
		if err != nil {
			return fmt.Errorf("csv: %s line %d: %w", s.RatingsPath, line, err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (s *CSVSource) Catalog(ctx context.Context) ([]core.CatalogItem, error) {
	var out []core.CatalogItem
	err := readCSV(ctx, s.MoviesPath, []string{"movieId", "title"}, func(line int, col func(string) string) error {
		id, err := strconv.ParseInt(strings.TrimSpace(col("movieId")), 10, 64)
		if err != nil {
			return fmt.Errorf("csv: %s line %d: movieId: %w", s.MoviesPath, line, err)
		}
		title := col("title")
		out = append(out, core.CatalogItem{
			ID:    id,
			Title: title,
			Tags:  ParseGenres(col("genres")),
			Year:  ParseYear(title),
		})
		return nil
	})
	return out, err
}

// ParseGenres 把 "Action|Comedy" 拆成标签列表；"(no genres listed)" 视为无标签。
func ParseGenres(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == noGenres {
		return nil
	}
	var out []string
	for _, g := range strings.Split(s, "|") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// ParseYear 从 "Toy Story (1995)" 形式的标题末尾解析年份，解析不到返回 0。
func ParseYear(title string) int {
	m := yearSuffix.FindStringSubmatch(title)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

func parseRating(col func(string) string) (core.Rating, error) {
	var r core.Rating
	var err error
	if r.UserID, err = strconv.ParseInt(strings.TrimSpace(col("userId")), 10, 64); err != nil {
		return r, fmt.Errorf("userId: %w", err)
	}
	if r.ItemID, err = strconv.ParseInt(strings.TrimSpace(col("movieId")), 10, 64); err != nil {
		return r, fmt.Errorf("movieId: %w", err)
	}
	if r.Value, err = strconv.ParseFloat(strings.TrimSpace(col("rating")), 64); err != nil {
		return r, fmt.Errorf("rating: %w", err)
	}
	if ts := strings.TrimSpace(col("timestamp")); ts != "" {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return r, fmt.Errorf("timestamp: %w", err)
		}
		r.Timestamp = time.Unix(sec, 0).UTC()
	}
	return r, nil
}

// readCSV 逐行读取，required 中的列必须出现在表头中。
func readCSV(ctx context.Context, path string, required []string, fn func(line int, col func(string) string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("csv: open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("csv: %s is empty (no header row)", path)
	}
	if err != nil {
		return fmt.Errorf("csv: parse %s: %w", path, err)
	}
	pos := make(map[string]int, len(header))
	for n, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = n
	}
	for _, name := range required {
		if _, ok := pos[name]; !ok {
			return fmt.Errorf("csv: %s: missing column %q", path, name)
		}
	}

	var record []string
	col := func(name string) string {
		n, ok := pos[name]
		if !ok || n >= len(record) {
			return ""
		}
		return record[n]
	}
	for line := 2; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		record, err = reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("csv: parse %s: %w", path, err)
		}
		if err := fn(line, col); err != nil {
			return err
		}
	}
}

var _ core.RatingSource = (*CSVSource)(nil)

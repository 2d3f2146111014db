package stack

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gisegment/internal/models"
)

const slicePrefix = "slice_"

// SliceInfo is the metadata encoded in a slice path such as
// .../case123_day20/scans/slice_0065_266_266_1.50_1.50.png
type SliceInfo struct {
	ID     models.SliceID
	Width  int
	Height int
	Path   string
}

// sliceToken returns the zero-padded slice number token of a slice file name
// ("0065" for slice_0065_266_266_1.50_1.50.png).
func sliceToken(path string) (string, error) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, slicePrefix) {
		return "", fmt.Errorf("slice name %q: missing %q prefix", base, slicePrefix)
	}
	rest := strings.TrimPrefix(base, slicePrefix)
	token := rest
	if i := strings.IndexAny(rest, "_."); i >= 0 {
		token = rest[:i]
	}
	if token == "" {
		return "", fmt.Errorf("slice name %q: empty slice index", base)
	}
	for _, c := range token {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("slice name %q: non-numeric slice index %q", base, token)
		}
	}
	return token, nil
}

// ParseSliceNumber extracts the slice ordinal.
func ParseSliceNumber(path string) (int, error) {
	token, err := sliceToken(path)
	if err != nil {
		return 0, err
	}
	number, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("slice index %q: %w", token, err)
	}
	return number, nil
}

// ShiftedPath returns the path of the slice offset positions away from path,
// keeping the directory, the token width and everything after the token.
func ShiftedPath(path string, offset int) (string, error) {
	token, err := sliceToken(path)
	if err != nil {
		return "", err
	}
	number, err := strconv.Atoi(token)
	if err != nil {
		return "", fmt.Errorf("slice index %q: %w", token, err)
	}

	base := filepath.Base(path)
	shifted := fmt.Sprintf("%s%0*d", slicePrefix, len(token), number+offset)
	newBase := shifted + strings.TrimPrefix(base, slicePrefix+token)
	return filepath.Join(filepath.Dir(path), newBase), nil
}

// ParseSlicePath extracts case, day, slice number and pixel dimensions.
func ParseSlicePath(path string) (SliceInfo, error) {
	info := SliceInfo{Path: path}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	fields := strings.Split(base, "_")
	if len(fields) < 4 || fields[0] != "slice" {
		return info, fmt.Errorf("slice name %q: expected slice_<n>_<width>_<height>", base)
	}

	var err error
	if info.ID.Slice, err = strconv.Atoi(fields[1]); err != nil {
		return info, fmt.Errorf("slice name %q: slice index: %w", base, err)
	}
	if info.Width, err = strconv.Atoi(fields[2]); err != nil {
		return info, fmt.Errorf("slice name %q: width: %w", base, err)
	}
	if info.Height, err = strconv.Atoi(fields[3]); err != nil {
		return info, fmt.Errorf("slice name %q: height: %w", base, err)
	}

	// The case/day directory sits two levels above the file (caseN_dayM/scans/slice_...).
	caseDir := filepath.Base(filepath.Dir(filepath.Dir(path)))
	parts := strings.Split(caseDir, "_")
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "case") || !strings.HasPrefix(parts[1], "day") {
		return info, fmt.Errorf("case directory %q: expected case<N>_day<M>", caseDir)
	}
	if info.ID.Case, err = strconv.Atoi(strings.TrimPrefix(parts[0], "case")); err != nil {
		return info, fmt.Errorf("case directory %q: case: %w", caseDir, err)
	}
	if info.ID.Day, err = strconv.Atoi(strings.TrimPrefix(parts[1], "day")); err != nil {
		return info, fmt.Errorf("case directory %q: day: %w", caseDir, err)
	}

	return info, nil
}

// Discover walks root and returns every slice PNG sorted by case, day and slice.
func Discover(root string) ([]SliceInfo, error) {
	var infos []SliceInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, slicePrefix) || !strings.EqualFold(filepath.Ext(name), ".png") {
			return nil
		}
		info, err := ParseSlicePath(path)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover slices under %s: %w", root, err)
	}

	sort.Slice(infos, func(i, j int) bool {
		a, b := infos[i].ID, infos[j].ID
		if a.Case != b.Case {
			return a.Case < b.Case
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.Slice < b.Slice
	})
	return infos, nil
}

package storage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	outputDateLayout = "02-Jan-2006"
	KeepObject       = ".keep"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	sequenceSuffix      = regexp.MustCompile(`-(\d+)$`)

	// Serialises allocation within one process for providers without a Locker.
	allocMu sync.Mutex
)

// SecureFilename reduces name to a flat ASCII file name. Accents are stripped,
// path separators and whitespace become underscores, anything else outside
// [A-Za-z0-9_.-] is dropped along with leading and trailing dots and
// underscores. The result may be empty.
func SecureFilename(name string) string {
	var ascii strings.Builder
	for _, r := range norm.NFKD.String(name) {
		if r < unicode.MaxASCII {
			ascii.WriteRune(r)
		}
	}

	cleaned := strings.NewReplacer("/", " ", "\\", " ").Replace(ascii.String())
	cleaned = strings.Join(strings.Fields(cleaned), "_")
	cleaned = unsafeFilenameChars.ReplaceAllString(cleaned, "")

	return strings.Trim(cleaned, "._")
}

// NewOutputDir reserves a fresh top level directory in bucket named
// "<base>-NNNN", where base is the sanitised customName or the date of now as
// DD-Mon-YYYY, and NNNN is one above the highest sequence already used by a
// directory starting with base. The directory is reserved by writing an empty
// marker object into it.
func NewOutputDir(ctx context.Context, p Provider, bucket, customName string, now time.Time) (string, error) {
	base := SecureFilename(customName)
	if base == "" {
		base = now.Format(outputDateLayout)
	}

	if locker, ok := p.(Locker); ok {
		unlock, err := locker.Lock(ctx, bucket)
		if err != nil {
			return "", fmt.Errorf("error locking bucket %s: %w", bucket, err)
		}
		defer unlock()
	} else {
		allocMu.Lock()
		defer allocMu.Unlock()
	}

	maxSeq := 0
	seen := make(map[string]bool)
	for obj, err := range p.IterObjects(ctx, bucket, base) {
		if err != nil {
			return "", fmt.Errorf("error listing output directories: %w", err)
		}

		dir, _, found := strings.Cut(obj.Name, "/")
		if !found || seen[dir] {
			continue
		}
		seen[dir] = true

		if match := sequenceSuffix.FindStringSubmatch(dir); match != nil {
			if seq, err := strconv.Atoi(match[1]); err == nil && seq > maxSeq {
				maxSeq = seq
			}
		}
	}

	dir := fmt.Sprintf("%s-%04d", base, maxSeq+1)

	if err := p.PutObject(ctx, bucket, dir+"/"+KeepObject, strings.NewReader("")); err != nil {
		return "", fmt.Errorf("error reserving output directory %s: %w", dir, err)
	}

	return dir, nil
}

package docstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bodul/wafflegram/internal/identity"
)

const (
	maxPathLength = 512
	// maxFutureDrift bounds how far ahead of the local clock an ingested
	// document may be stamped.
	maxFutureDrift = 10 * time.Minute
)

// ValidatePath checks the path rules: absolute, no empty segments, no
// trailing slash, printable ASCII without whitespace or braces.
func ValidatePath(path string) error {
	switch {
	case len(path) < 2 || path[0] != '/':
		return fmt.Errorf("%w: %q must start with '/'", ErrInvalidPath, path)
	case len(path) > maxPathLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidPath, maxPathLength)
	case strings.HasSuffix(path, "/"):
		return fmt.Errorf("%w: %q ends with '/'", ErrInvalidPath, path)
	case strings.Contains(path, "//"):
		return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c <= ' ' || c > '~' || c == '{' || c == '}' {
			return fmt.Errorf("%w: %q has forbidden character %q", ErrInvalidPath, path, c)
		}
	}
	return nil
}

// CheckPermission enforces path ownership: a path containing '~' may only
// be written by an author whose address follows a '~' in the path.
func CheckPermission(path, author string) error {
	if !strings.Contains(path, "~") {
		return nil
	}
	if strings.Contains(path, "~"+author) {
		return nil
	}
	return fmt.Errorf("%w: %s may not write %q", ErrPermissionDenied, author, path)
}

func signingPayload(d Document) []byte {
	hash := sha256.Sum256(d.Content)
	var b strings.Builder
	b.WriteString("author\t" + d.Author + "\n")
	b.WriteString("contentHash\t" + hex.EncodeToString(hash[:]) + "\n")
	b.WriteString("format\t" + d.Format + "\n")
	b.WriteString("path\t" + d.Path + "\n")
	b.WriteString("timestamp\t" + strconv.FormatInt(d.Timestamp, 10) + "\n")
	return []byte(b.String())
}

// Sign builds and signs the document author writes at timestamp.
func Sign(author *identity.Keypair, in DocToSet, timestamp int64) (Document, error) {
	if author == nil {
		return Document{}, ErrNoIdentity
	}
	if err := ValidatePath(in.Path); err != nil {
		return Document{}, err
	}
	if err := CheckPermission(in.Path, author.Address); err != nil {
		return Document{}, err
	}
	format := in.Format
	if format == "" {
		format = DefaultFormat
	}
	d := Document{
		Format:    format,
		Path:      in.Path,
		Author:    author.Address,
		Content:   append([]byte(nil), in.Content...),
		Timestamp: timestamp,
	}
	d.Signature = author.Sign(signingPayload(d))
	return d, nil
}

// Verify checks a document received from elsewhere against the path rules,
// ownership, clock drift and its signature.
func Verify(d Document, now time.Time) error {
	if err := ValidatePath(d.Path); err != nil {
		return err
	}
	if err := CheckPermission(d.Path, d.Author); err != nil {
		return err
	}
	if d.Format == "" {
		return fmt.Errorf("%w: missing format", ErrInvalidDocument)
	}
	if d.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidDocument)
	}
	if d.Timestamp > now.Add(maxFutureDrift).UnixMicro() {
		return fmt.Errorf("%w: timestamp too far in the future", ErrInvalidDocument)
	}
	if err := identity.Verify(d.Author, signingPayload(d), d.Signature); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}

// NextTimestamp returns the timestamp for a local write: the current time,
// bumped past the path's latest revision so local writes always win.
func NextTimestamp(now time.Time, latest *Document) int64 {
	ts := now.UnixMicro()
	if latest != nil && latest.Timestamp >= ts {
		ts = latest.Timestamp + 1
	}
	return ts
}

// Latest returns the winning revision among docs, which must be non-empty.
func Latest(docs []Document) Document {
	best := docs[0]
	for _, d := range docs[1:] {
		if d.Newer(best) {
			best = d
		}
	}
	return best
}

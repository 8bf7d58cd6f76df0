// Package extract re-homes inline base64 images embedded in rich-text
// protocol sections into object storage, rewriting the text to reference the
// stored objects.
package extract

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// Uploader is the slice of the blob store the extractor needs.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PublicURL(key string) string
}

// Image describes one extracted inline image.
type Image struct {
	Section   string
	Ordinal   int
	ObjectKey string
	PublicURL string
	ByteSize  int64
}

// Matches src="data:image/<ext>;base64,<payload>" inside an img tag. The
// payload group is non-greedy so adjacent tags never merge into one match.
var inlineImagePattern = regexp.MustCompile(`src="data:image/([a-zA-Z0-9+.-]+);base64,([^"]+?)"`)

// Rewrite scans text for inline-encoded images in a single pass, uploads each
// to the blob store under keyPrefix, and rewrites the tag to the stored
// object's public URL. A failure on one image is logged and skipped: the tag
// is left as-is, no record is produced for it, and the rest of the text is
// still processed. Rewrite never fails as a whole.
func Rewrite(ctx context.Context, up Uploader, text, section, keyPrefix string) (string, []Image) {
	matches := inlineImagePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var out strings.Builder
	images := make([]Image, 0, len(matches))
	last := 0
	ordinal := 0

	for _, m := range matches {
		ordinal++
		ext := text[m[2]:m[3]]
		payload := text[m[4]:m[5]]

		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			log.Printf("extract: %s image %d: decode: %v", section, ordinal, err)
			continue
		}

		key := objectKey(keyPrefix, section, ordinal, normalizeExt(ext))
		if err := up.Put(ctx, key, data, "image/"+ext); err != nil {
			log.Printf("extract: %s image %d: upload: %v", section, ordinal, err)
			continue
		}

		publicURL := up.PublicURL(key)
		out.WriteString(text[last:m[0]])
		out.WriteString(`src="` + publicURL + `"`)
		last = m[1]

		images = append(images, Image{
			Section:   section,
			Ordinal:   ordinal,
			ObjectKey: key,
			PublicURL: publicURL,
			ByteSize:  int64(len(data)),
		})
	}
	out.WriteString(text[last:])

	return out.String(), images
}

func objectKey(keyPrefix, section string, ordinal int, ext string) string {
	return fmt.Sprintf("%sprotocol-images/%s-%d-%d-%s.%s",
		keyPrefix, section, ordinal, time.Now().Unix(), randomSuffix(), ext)
}

// svg+xml and friends carry characters that do not belong in object keys.
func normalizeExt(ext string) string {
	if idx := strings.IndexAny(ext, "+."); idx > 0 {
		return ext[:idx]
	}
	return ext
}

func randomSuffix() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// FingerprintInput lists everything that makes two scoring calls equivalent.
type FingerprintInput struct {
	FileType        FileType
	FileHashes      []string
	TemplateVersion int
	CustomTotal     *float64
	BonusItems      []BonusItem
}

// Fingerprint hashes file contents, template version, custom total and bonus items.
func Fingerprint(in FingerprintInput) string {
	h := sha256.New()
	fmt.Fprintf(h, "file_type=%s\n", in.FileType)
	for i, fileHash := range in.FileHashes {
		fmt.Fprintf(h, "file[%d]=%s\n", i, fileHash)
	}
	fmt.Fprintf(h, "template_version=%d\n", in.TemplateVersion)
	if in.CustomTotal != nil {
		fmt.Fprintf(h, "custom_total=%s\n", strconv.FormatFloat(*in.CustomTotal, 'f', -1, 64))
	} else {
		fmt.Fprint(h, "custom_total=\n")
	}
	for i, item := range in.BonusItems {
		fmt.Fprintf(h, "bonus[%d]=%q:%s\n", i, item.Label, strconv.FormatFloat(item.Points, 'f', -1, 64))
	}
	return hex.EncodeToString(h.Sum(nil))
}

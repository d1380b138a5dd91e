package filesync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/dmitrijs2005/docsync/internal/common"
)

// compressedExt lists formats that gain nothing from gzip.
var compressedExt = map[string]bool{
	".gz": true, ".tgz": true, ".zip": true, ".7z": true, ".rar": true, ".bz2": true, ".xz": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".heic": true,
	".mp3": true, ".mp4": true, ".mov": true, ".docx": true, ".xlsx": true, ".pptx": true,
}

type candidate struct {
	Path    string
	Ext     string
	Size    int64
	Regular bool
	info    fs.FileInfo
}

// inspect stats localPath and validates it as an attachment source.
func (e *Engine) inspect(localPath string) (*candidate, error) {
	fi, err := os.Stat(localPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &common.ValidationError{Field: "file", Reason: fmt.Sprintf("%s does not exist", localPath), Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}
	c := &candidate{
		Path:    localPath,
		Ext:     strings.ToLower(filepath.Ext(localPath)),
		Size:    fi.Size(),
		Regular: fi.Mode().IsRegular(),
		info:    fi,
	}
	denied := make([]any, len(e.cfg.DeniedExtensions))
	for i, x := range e.cfg.DeniedExtensions {
		denied[i] = strings.ToLower(x)
	}
	err = validation.ValidateStruct(c,
		validation.Field(&c.Regular, validation.By(func(any) error {
			if !c.Regular {
				return errors.New("must be a regular file")
			}
			return nil
		})),
		validation.Field(&c.Size, validation.Max(e.cfg.MaxFileSize).Error(fmt.Sprintf("must not exceed %d bytes", e.cfg.MaxFileSize))),
		validation.Field(&c.Ext, validation.NotIn(denied...).Error("file type is not allowed")),
	)
	if err != nil {
		return nil, common.NewValidationError(err)
	}
	return c, nil
}

func (c *candidate) compressible(threshold int64) bool {
	return c.Size > threshold && !compressedExt[c.Ext]
}

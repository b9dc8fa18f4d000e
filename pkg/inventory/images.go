package inventory

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ImageUpload is one picture to store for a component.
type ImageUpload struct {
	Name    string
	Content io.Reader
}

// AddImages stores pictures under images/<component>/ and records them. All
// rows commit together; written files are removed if the call fails.
func (s *Store) AddImages(ctx context.Context, componentID, description, uploadedBy string, uploads []ImageUpload) ([]ComponentImage, error) {
	if len(uploads) == 0 {
		return nil, invalid("no images given")
	}
	for _, u := range uploads {
		if !IsImageFile(u.Name) {
			return nil, invalid("%s is not an accepted image type", u.Name)
		}
	}
	var (
		written []string
		out     []ComponentImage
	)
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := requireComponent(tx, componentID); err != nil {
			return err
		}
		now := s.timestamp()
		relDir := filepath.Join("images", safeSegment(componentID))
		dir := filepath.Join(s.dataDir, relDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		prefix := now.Format("20060102_150405")
		for idx, u := range uploads {
			ext := lowerExt(u.Name)
			stem := safeSegment(strings.TrimSuffix(filepath.Base(u.Name), filepath.Ext(u.Name)))
			dest := uniqueName(dir, fmt.Sprintf("%s_%02d_%s%s", prefix, idx, stem, ext))
			if err := writeFile(dest, u.Content); err != nil {
				return err
			}
			rel := filepath.ToSlash(filepath.Join(relDir, filepath.Base(dest)))
			written = append(written, rel)
			img := ComponentImage{
				ComponentID: componentID,
				ImagePath:   rel,
				Description: description,
				UploadedBy:  uploadedBy,
				UploadDate:  now,
			}
			if err := tx.Omit("Component").Create(&img).Error; err != nil {
				return fmt.Errorf("create component image: %w", err)
			}
			out = append(out, img)
		}
		return nil
	})
	if err != nil {
		s.removeCopies(written)
		return nil, err
	}
	s.logger.Info("images stored", zap.String("component", componentID), zap.Int("count", len(out)))
	return out, nil
}

// AddImage copies a single picture from the local file system.
func (s *Store) AddImage(ctx context.Context, componentID, src, description, uploadedBy string) (*ComponentImage, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, invalid("cannot read %s: %v", src, err)
	}
	defer f.Close()
	imgs, err := s.AddImages(ctx, componentID, description, uploadedBy, []ImageUpload{{Name: filepath.Base(src), Content: f}})
	if err != nil {
		return nil, err
	}
	return &imgs[0], nil
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// Images returns the pictures of a component, newest first.
func (s *Store) Images(ctx context.Context, componentID string) ([]ComponentImage, error) {
	db := s.db.WithContext(ctx)
	if err := requireComponent(db, componentID); err != nil {
		return nil, err
	}
	var out []ComponentImage
	if err := db.Where("component_id = ?", componentID).
		Order("upload_date DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list component images: %w", err)
	}
	return out, nil
}

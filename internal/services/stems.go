package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
)

// StemInput describes an uploaded stem. Replaces names an existing stem of
// the same track whose layer identity the new stem takes over.
type StemInput struct {
	TrackID    uint64
	Category   string
	FilePath   string
	UploadedBy string
	Replaces   uint64
	Meta       []byte
}

// CreateStem stores a new live stem
func (w *Workflow) CreateStem(ctx context.Context, input StemInput) (*models.Stem, error) {
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if category == "" || input.FilePath == "" {
		return nil, invalidState("stem category and file path are required")
	}

	stem := models.Stem{
		TrackID:    input.TrackID,
		Category:   category,
		FilePath:   input.FilePath,
		UploadedBy: input.UploadedBy,
	}
	meta, err := models.MetaJSON(input.Meta)
	if err != nil {
		return nil, invalidState("%s %v", "stem", err)
	}
	stem.Meta = meta

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Track{}).Where("track_id = ?", input.TrackID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return notFound("track %d", input.TrackID)
		}

		if input.Replaces != 0 {
			replaced, err := getStem(tx, input.Replaces)
			if err != nil {
				return err
			}
			if replaced.TrackID != input.TrackID {
				return notFound("stem %d in track %d", input.Replaces, input.TrackID)
			}
			stem.Identity = replaced.Identity
			return tx.Create(&stem).Error
		}

		// identity is derived from the generated id, so it is filled in after insert
		stem.Identity = category + ":pending"
		if err := tx.Create(&stem).Error; err != nil {
			return err
		}
		stem.Identity = StemIdentity(category, stem.StemID)
		return tx.Model(&stem).Update("identity", stem.Identity).Error
	})
	if err != nil {
		return nil, asTransactionError("create stem", err)
	}

	return &stem, nil
}

// StemIdentity is the stable layer key of a stem that starts a new layer
func StemIdentity(category string, stemID uint64) string {
	return fmt.Sprintf("%s:%d", category, stemID)
}

// GetStem returns one stem
func (w *Workflow) GetStem(ctx context.Context, stemID uint64) (*models.Stem, error) {
	return getStem(w.DB.WithContext(ctx), stemID)
}

func getStem(db *gorm.DB, stemID uint64) (*models.Stem, error) {
	var stem models.Stem
	if err := quiet(db).First(&stem, stemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("stem %d", stemID)
		}
		return nil, err
	}
	return &stem, nil
}

// ListStems returns the live stems of a track in upload order
func (w *Workflow) ListStems(ctx context.Context, trackID uint64) ([]models.Stem, error) {
	var stems []models.Stem
	err := w.DB.WithContext(ctx).
		Where("track_id = ?", trackID).
		Order("stem_id ASC").
		Find(&stems).Error
	return stems, err
}

// UpdateStemFile repoints a live stem at a new file. Snapshots taken
// earlier keep the path they froze.
func (w *Workflow) UpdateStemFile(ctx context.Context, stemID uint64, filePath string) (*models.Stem, error) {
	if filePath == "" {
		return nil, invalidState("file path is required")
	}
	stem, err := w.GetStem(ctx, stemID)
	if err != nil {
		return nil, err
	}
	if err := w.DB.WithContext(ctx).Model(stem).Update("file_path", filePath).Error; err != nil {
		return nil, err
	}
	return stem, nil
}

// latestStemsByIdentity keeps the newest stem of each layer
func latestStemsByIdentity(stems []models.Stem) []models.Stem {
	latest := make(map[string]int, len(stems))
	var out []models.Stem
	for _, stem := range stems {
		if i, ok := latest[stem.Identity]; ok {
			if stem.StemID > out[i].StemID {
				out[i] = stem
			}
			continue
		}
		latest[stem.Identity] = len(out)
		out = append(out, stem)
	}
	return out
}

package services

import (
	"context"
	"sort"

	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
)

// DiffEntry classifies one proposed stem against a stage snapshot.
// VersionStemID is set for modify and unchanged entries.
type DiffEntry struct {
	StemID        uint64  `json:"stemId"`
	VersionStemID *uint64 `json:"versionStemId,omitempty"`
	Identity      string  `json:"identity"`
	Category      string  `json:"category"`
	FilePath      string  `json:"filePath"`
	Kind          string  `json:"kind"`
}

var kindRank = map[string]int{
	models.KindNew:       0,
	models.KindModify:    1,
	models.KindUnchanged: 2,
}

// ClassifyStems compares proposed stems to a snapshot by identity, then by
// file path. Entries come back new first, then modify, then unchanged,
// keeping proposal order within a kind.
func ClassifyStems(snapshot []models.VersionStem, proposed []models.Stem) []DiffEntry {
	byIdentity := make(map[string]models.VersionStem, len(snapshot))
	for _, vs := range snapshot {
		byIdentity[vs.Identity] = vs
	}

	entries := make([]DiffEntry, 0, len(proposed))
	for _, stem := range proposed {
		entry := DiffEntry{
			StemID:   stem.StemID,
			Identity: stem.Identity,
			Category: stem.Category,
			FilePath: stem.FilePath,
			Kind:     models.KindNew,
		}
		if vs, ok := byIdentity[stem.Identity]; ok {
			id := vs.VersionStemID
			entry.VersionStemID = &id
			if vs.FilePath == stem.FilePath {
				entry.Kind = models.KindUnchanged
			} else {
				entry.Kind = models.KindModify
			}
		}
		entries = append(entries, entry)
	}

	sortDiff(entries)
	return entries
}

func sortDiff(entries []DiffEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return kindRank[entries[i].Kind] < kindRank[entries[j].Kind]
	})
}

// ComputeDiff classifies the proposed stems against the target stage's snapshot
func (w *Workflow) ComputeDiff(ctx context.Context, targetStageID uint64, proposedStemIDs []uint64) ([]DiffEntry, error) {
	return computeDiff(w.DB.WithContext(ctx), targetStageID, proposedStemIDs)
}

func computeDiff(db *gorm.DB, targetStageID uint64, proposedStemIDs []uint64) ([]DiffEntry, error) {
	stage, err := getStage(db, targetStageID)
	if err != nil {
		return nil, err
	}

	proposed, err := loadProposedStems(db, stage.TrackID, proposedStemIDs)
	if err != nil {
		return nil, err
	}

	snapshot, err := ListVersionStems(db, stage.StageID)
	if err != nil {
		return nil, err
	}

	return ClassifyStems(snapshot, proposed), nil
}

// loadProposedStems returns the stems in request order, rejecting unknown
// stems, stems of other tracks and two stems for the same layer.
func loadProposedStems(db *gorm.DB, trackID uint64, stemIDs []uint64) ([]models.Stem, error) {
	ids := make([]uint64, 0, len(stemIDs))
	seenID := make(map[uint64]bool, len(stemIDs))
	for _, id := range stemIDs {
		if !seenID[id] {
			seenID[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []models.Stem{}, nil
	}

	var rows []models.Stem
	if err := db.Where("stem_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint64]models.Stem, len(rows))
	for _, stem := range rows {
		byID[stem.StemID] = stem
	}

	stems := make([]models.Stem, 0, len(ids))
	seenIdentity := make(map[string]uint64, len(ids))
	for _, id := range ids {
		stem, ok := byID[id]
		if !ok || stem.TrackID != trackID {
			return nil, notFound("stem %d in track %d", id, trackID)
		}
		if other, dup := seenIdentity[stem.Identity]; dup {
			return nil, invalidState("stems %d and %d are the same layer %s", other, id, stem.Identity)
		}
		seenIdentity[stem.Identity] = id
		stems = append(stems, stem)
	}
	return stems, nil
}

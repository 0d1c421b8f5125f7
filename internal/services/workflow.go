// workflow.go
//
// Collaborative stem revision and review service
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of stemflow.
// stemflow is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// stemflow is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with stemflow.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package services

import (
	"context"
	"errors"
	"strings"

	"github.com/localnerve/stemflow/internal/audio"
	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Workflow runs the track revision and review operations
type Workflow struct {
	DB    *gorm.DB
	Mixer audio.Mixer
	locks *trackLocks
}

// NewWorkflow creates a Workflow over db. A nil mixer assigns guide paths without rendering.
func NewWorkflow(db *gorm.DB, mixer audio.Mixer) *Workflow {
	if mixer == nil {
		mixer = audio.NewPathMixer("guides")
	}
	return &Workflow{
		DB:    db,
		Mixer: mixer,
		locks: newTrackLocks(),
	}
}

// withTrackLock runs fn in one transaction while holding the track's write
// lock, both in process and as a row lock on the track.
func (w *Workflow) withTrackLock(ctx context.Context, op string, trackID uint64, fn func(tx *gorm.DB, track *models.Track) error) error {
	unlock := w.locks.Lock(trackID)
	defer unlock()

	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		track, err := lockTrack(tx, trackID)
		if err != nil {
			return err
		}
		return fn(tx, track)
	})
	return asTransactionError(op, err)
}

func lockTrack(tx *gorm.DB, trackID uint64) (*models.Track, error) {
	var track models.Track
	err := quiet(tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&track, trackID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("track %d", trackID)
		}
		return nil, err
	}
	return &track, nil
}

// quiet silences gorm's record-not-found logging for lookups that expect misses
func quiet(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)})
}

// isDuplicateKey matches unique violations, translated or not
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

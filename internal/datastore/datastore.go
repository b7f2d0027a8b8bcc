package datastore

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/understudy-ai/understudy-backend/internal/filestore"
	"github.com/understudy-ai/understudy-backend/internal/platform/logger"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/resource"
)

// recordFile maps a leaf collection to the filename of its record
// within the resource directory.
var recordFile = map[string]string{
	resource.Projects:           "project.json",
	resource.Brains:             "brain.json",
	resource.Sessions:           "session.json",
	resource.Chunks:             "episode_chunk.json",
	resource.Assignments:        "assignment.json",
	resource.Models:             "model.json",
	resource.OnlineEvaluations:  "online_evaluation.json",
	resource.OfflineEvaluations: "offline_evaluation.json",
	resource.Snapshots:          "snapshot.json",
}

// Store persists one JSON record per resource at the path derived from
// its id. Writes are per-file atomic; there are no multi-file
// transactions, so listings may observe partial write sets and
// consumers re-read.
type Store struct {
	files *filestore.Store
	log   *logger.Logger

	mu         sync.Mutex
	lastMicros int64
}

func New(files *filestore.Store, baseLog *logger.Logger) *Store {
	return &Store{
		files: files,
		log:   baseLog.With("component", "datastore"),
	}
}

// Files exposes the underlying byte store for collaborators that share
// the root (notifications, staleness probes).
func (s *Store) Files() *filestore.Store { return s.files }

func recordPath(id resource.ID) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	name, ok := recordFile[id.Kind()]
	if !ok {
		return "", svcerr.InvalidArgument("collection %q has no record type", id.Kind())
	}
	return id.String() + "/" + name, nil
}

// Read decodes the record at id into out.
func (s *Store) Read(id resource.ID, out interface{}) error {
	path, err := recordPath(id)
	if err != nil {
		return err
	}
	data, err := s.files.Read(path)
	if err != nil {
		if errors.Is(err, svcerr.ErrNotFound) {
			return svcerr.NotFound("resource %q not found", id.String())
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return svcerr.Internal("decoding %q: %v", id.String(), err)
	}
	return nil
}

// Exists reports whether a record is present for id.
func (s *Store) Exists(id resource.ID) bool {
	path, err := recordPath(id)
	if err != nil {
		return false
	}
	return s.files.Exists(path)
}

// write persists a record, injecting created_micros on first write and
// preserving the stored value on overwrites.
func (s *Store) write(id resource.ID, record interface{}, createdMicros *int64) error {
	path, err := recordPath(id)
	if err != nil {
		return err
	}
	if *createdMicros == 0 {
		if prev, ok := s.existingCreatedMicros(path); ok {
			*createdMicros = prev
		} else {
			*createdMicros = s.nextMicros()
		}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return svcerr.Internal("encoding %q: %v", id.String(), err)
	}
	return s.files.Write(path, data)
}

func (s *Store) existingCreatedMicros(path string) (int64, bool) {
	data, err := s.files.Read(path)
	if err != nil {
		return 0, false
	}
	var probe struct {
		CreatedMicros int64 `json:"created_micros"`
	}
	if json.Unmarshal(data, &probe) != nil || probe.CreatedMicros == 0 {
		return 0, false
	}
	return probe.CreatedMicros, true
}

// nextMicros returns current UTC microseconds, clamped so values never
// decrease within this process.
func (s *Store) nextMicros() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().UnixMicro()
	if now < s.lastMicros {
		now = s.lastMicros
	}
	s.lastMicros = now
	return now
}

// Delete removes the record and everything owned beneath it.
func (s *Store) Delete(id resource.ID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return s.files.RemoveTree(id.String())
}

// List resolves a resource glob (collection/element pairs, `*` and
// `{a,b}` allowed in elements) to ids in ascending id-string order.
// Paging is stable across calls with no intervening writes: nextToken
// is the id immediately after the last returned element, "" once the
// listing is exhausted. pageSize <= 0 returns everything.
func (s *Store) List(pattern string, pageSize int, pageToken string) ([]resource.ID, string, error) {
	parts := strings.Split(pattern, "/")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return nil, "", svcerr.InvalidArgument("bad list pattern %q", pattern)
	}
	kind := parts[len(parts)-2]
	name, ok := recordFile[kind]
	if !ok {
		return nil, "", svcerr.InvalidArgument("collection %q has no record type", kind)
	}
	if pageToken != "" {
		if _, err := resource.Parse(pageToken); err != nil {
			return nil, "", svcerr.InvalidArgument("malformed page token %q", pageToken)
		}
	}

	matches, err := s.files.Glob(pattern + "/" + name)
	if err != nil {
		return nil, "", err
	}
	idStrings := make([]string, 0, len(matches))
	for _, m := range matches {
		idStrings = append(idStrings, strings.TrimSuffix(m, "/"+name))
	}
	sort.Strings(idStrings)

	start := 0
	if pageToken != "" {
		start = sort.SearchStrings(idStrings, pageToken)
	}
	end := len(idStrings)
	next := ""
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
		next = idStrings[end]
	}

	ids := make([]resource.ID, 0, end-start)
	for _, str := range idStrings[start:end] {
		id, err := resource.Parse(str)
		if err != nil {
			return nil, "", svcerr.Internal("stored path %q does not parse: %v", str, err)
		}
		ids = append(ids, id)
	}
	return ids, next, nil
}

package resource

import (
	"sort"
	"strconv"
	"strings"

	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

// Collection names of the resource tree.
const (
	Projects           = "projects"
	Brains             = "brains"
	Sessions           = "sessions"
	Episodes           = "episodes"
	Chunks             = "chunks"
	Assignments        = "assignments"
	Models             = "models"
	OnlineEvaluations  = "online_evaluations"
	OfflineEvaluations = "offline_evaluations"
	Snapshots          = "snapshots"
)

type node map[string]node

// tree maps each collection to the collections allowed beneath it.
var tree = node{
	Projects: {
		Brains: {
			Sessions: {
				Episodes: {
					Chunks: nil,
				},
				Assignments:        nil,
				Models:             nil,
				OnlineEvaluations:  nil,
				OfflineEvaluations: nil,
			},
			Snapshots: nil,
		},
	},
}

// ID addresses one element of the resource tree as alternating
// collection/element path components, e.g. "projects/p0/brains/b0".
type ID struct {
	parts []string
}

// Parse validates a path string against the tree and returns its ID.
func Parse(path string) (ID, error) {
	if path == "" {
		return ID{}, svcerr.InvalidArgument("resource path is empty")
	}
	parts := strings.Split(path, "/")
	if len(parts)%2 != 0 {
		return ID{}, svcerr.InvalidArgument("resource path %q has an odd number of components", path)
	}
	id := ID{parts: parts}
	if err := id.Validate(); err != nil {
		return ID{}, err
	}
	out := make([]string, len(parts))
	copy(out, parts)
	return ID{parts: out}, nil
}

// FromMap builds an ID from a collection-to-element map, ordering the
// components by walking the tree from the root.
func FromMap(m map[string]string) (ID, error) {
	if len(m) == 0 {
		return ID{}, svcerr.InvalidArgument("resource map is empty")
	}
	parts := make([]string, 0, 2*len(m))
	used := make(map[string]bool, len(m))
	cur := tree
	for len(used) < len(m) {
		var next string
		found := 0
		for col := range cur {
			if _, ok := m[col]; ok {
				next = col
				found++
			}
		}
		if found == 0 {
			return ID{}, svcerr.InvalidArgument(
				"resource map: no valid ancestor chain for collections %v", unusedKeys(m, used))
		}
		if found > 1 {
			return ID{}, svcerr.InvalidArgument("resource map: sibling collections %v are ambiguous", unusedKeys(m, used))
		}
		parts = append(parts, next, m[next])
		used[next] = true
		cur = cur[next]
	}
	id := ID{parts: parts}
	if err := id.Validate(); err != nil {
		return ID{}, err
	}
	return id, nil
}

func unusedKeys(m map[string]string, used map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !used[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Validate checks component shape and collection placement against the
// tree.
func (id ID) Validate() error {
	if len(id.parts) == 0 {
		return svcerr.InvalidArgument("resource id is empty")
	}
	if len(id.parts)%2 != 0 {
		return svcerr.InvalidArgument("resource id %q has an odd number of components", id.String())
	}
	cur := tree
	for i := 0; i < len(id.parts); i += 2 {
		col, elem := id.parts[i], id.parts[i+1]
		if col == "" || elem == "" {
			return svcerr.InvalidArgument("resource id %q has an empty component", id.String())
		}
		if strings.Contains(elem, "/") {
			return svcerr.InvalidArgument("resource id element %q contains a path separator", elem)
		}
		child, ok := cur[col]
		if !ok {
			return svcerr.InvalidArgument("resource id %q: collection %q is not valid at depth %d", id.String(), col, i/2)
		}
		cur = child
	}
	return nil
}

func (id ID) String() string { return strings.Join(id.parts, "/") }

func (id ID) IsZero() bool { return len(id.parts) == 0 }

func (id ID) Equal(other ID) bool { return id.String() == other.String() }

// Parts returns the alternating collection/element components.
func (id ID) Parts() []string {
	out := make([]string, len(id.parts))
	copy(out, id.parts)
	return out
}

// CollectionMap returns the collection-to-element mapping.
func (id ID) CollectionMap() map[string]string {
	m := make(map[string]string, len(id.parts)/2)
	for i := 0; i+1 < len(id.parts); i += 2 {
		m[id.parts[i]] = id.parts[i+1]
	}
	return m
}

// Kind is the final collection name, "brains" for a brain id.
func (id ID) Kind() string {
	if len(id.parts) < 2 {
		return ""
	}
	return id.parts[len(id.parts)-2]
}

// Parent drops the final collection/element pair.
func (id ID) Parent() ID {
	if len(id.parts) <= 2 {
		return ID{}
	}
	out := make([]string, len(id.parts)-2)
	copy(out, id.parts)
	return ID{parts: out}
}

// Child extends the id by one collection/element pair. The result may
// be invalid; callers that accept external input should Validate.
func (id ID) Child(collection, element string) ID {
	out := make([]string, 0, len(id.parts)+2)
	out = append(out, id.parts...)
	out = append(out, collection, element)
	return ID{parts: out}
}

// Element returns the element id of the named collection, or "" when
// the collection is not on this path.
func (id ID) Element(collection string) string {
	for i := 0; i+1 < len(id.parts); i += 2 {
		if id.parts[i] == collection {
			return id.parts[i+1]
		}
	}
	return ""
}

func (id ID) Project() string    { return id.Element(Projects) }
func (id ID) Brain() string      { return id.Element(Brains) }
func (id ID) Session() string    { return id.Element(Sessions) }
func (id ID) Episode() string    { return id.Element(Episodes) }
func (id ID) Chunk() string      { return id.Element(Chunks) }
func (id ID) Assignment() string { return id.Element(Assignments) }
func (id ID) Model() string      { return id.Element(Models) }
func (id ID) Snapshot() string   { return id.Element(Snapshots) }

// ChunkIndex parses the chunk element as its integer position.
func (id ID) ChunkIndex() (int, error) {
	elem := id.Chunk()
	if elem == "" {
		return 0, svcerr.InvalidArgument("resource id %q has no chunk component", id.String())
	}
	n, err := strconv.Atoi(elem)
	if err != nil {
		return 0, svcerr.InvalidArgument("chunk id %q is not an integer", elem)
	}
	return n, nil
}

// Typed constructors. Components are trusted here; Validate catches
// malformed input at store boundaries.

func ProjectID(project string) ID {
	return ID{parts: []string{Projects, project}}
}

func BrainID(project, brain string) ID {
	return ID{parts: []string{Projects, project, Brains, brain}}
}

func SessionID(project, brain, session string) ID {
	return ID{parts: []string{Projects, project, Brains, brain, Sessions, session}}
}

func EpisodeID(project, brain, session, episode string) ID {
	return ID{parts: []string{Projects, project, Brains, brain, Sessions, session, Episodes, episode}}
}

func ChunkID(project, brain, session, episode string, chunk int) ID {
	return ID{parts: []string{
		Projects, project, Brains, brain, Sessions, session,
		Episodes, episode, Chunks, strconv.Itoa(chunk),
	}}
}

func AssignmentID(project, brain, session, assignment string) ID {
	return ID{parts: []string{Projects, project, Brains, brain, Sessions, session, Assignments, assignment}}
}

func ModelID(project, brain, session, model string) ID {
	return ID{parts: []string{Projects, project, Brains, brain, Sessions, session, Models, model}}
}

func OnlineEvaluationID(project, brain, session, eval string) ID {
	return ID{parts: []string{Projects, project, Brains, brain, Sessions, session, OnlineEvaluations, eval}}
}

func OfflineEvaluationID(project, brain, session, eval string) ID {
	return ID{parts: []string{Projects, project, Brains, brain, Sessions, session, OfflineEvaluations, eval}}
}

func SnapshotID(project, brain, snapshot string) ID {
	return ID{parts: []string{Projects, project, Brains, brain, Snapshots, snapshot}}
}

package testing

import (
	"bookshelf/internal/remote"
	"bookshelf/internal/remote/memory"
)

// Library is the fixture loaded by SeedLibrary
type Library struct {
	Books       []string
	Communities []string
	Members     []string
}

// SeedLibrary stores a small catalog, two communities and three members into store
func SeedLibrary(store *memory.Store) Library {
	store.Seed(remote.Books,
		remote.Row{"id": "dune", "title": "Dune", "author": "Frank Herbert", "genre": "sci-fi", "checked_out": false},
		remote.Row{"id": "hobbit", "title": "The Hobbit", "author": "J.R.R. Tolkien", "genre": "fantasy", "checked_out": false},
		remote.Row{"id": "hyperion", "title": "Hyperion", "author": "Dan Simmons", "genre": "sci-fi", "checked_out": true},
	)
	store.Seed(remote.Communities,
		remote.Row{"id": "scifi", "name": "Sci-Fi Readers", "type": "genre", "created_by": "alice"},
		remote.Row{"id": "tolkien", "name": "Tolkien Circle", "type": "author", "created_by": "bob"},
	)
	store.Seed(remote.CommunityMembers,
		remote.Row{"community_id": "scifi", "member_id": "alice"},
		remote.Row{"community_id": "tolkien", "member_id": "bob"},
	)

	return Library{
		Books:       []string{"dune", "hobbit", "hyperion"},
		Communities: []string{"scifi", "tolkien"},
		Members:     []string{"alice", "bob", "carol"},
	}
}

// ABOUTME: Store interface and data types for meshmini persistence
// ABOUTME: Defines Post, Peer, RxParts, DM structs and the Store interface

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Post is a board post. Replies are posts with ReplyTo set.
// Posts are immutable once created and never deleted by the gateway.
type Post struct {
	ID      int64
	TS      int64 // UTC seconds
	Author  string
	Body    string
	ReplyTo *int64
}

// Peer is a cooperating gateway node.
type Peer struct {
	ID       string
	LastSeen *int64
}

// RxParts is a transient reassembly buffer for one peer-sync transfer.
type RxParts struct {
	UID       string
	Total     int
	Got       int
	Data      string
	FromID    string
	CreatedTS int64
}

// DM is a queued store-and-forward direct message.
// A row with DeliveredTS set is immutable and never redelivered.
type DM struct {
	ID          int64
	ToID        string
	Body        string
	CreatedTS   int64
	DeliveredTS *int64
}

// Counts summarizes table sizes for the health report.
type Counts struct {
	Posts       int
	Admins      int
	Blacklist   int
	Peers       int
	SeenUIDs    int
	AppliedUIDs int
	RxParts     int
	PendingDMs  int
}

// Store is the single owner of all persistent state. Every component
// acquires durable state through it; nothing else persists anything.
type Store interface {
	// Posts
	CreatePost(ctx context.Context, ts int64, author, body string, replyTo *int64) (int64, error)
	GetPost(ctx context.Context, id int64) (*Post, error)
	HasPost(ctx context.Context, id int64) (bool, error)
	RecentPosts(ctx context.Context, limit int) ([]*Post, error)
	RecentPostIDs(ctx context.Context, limit int) ([]int64, error)
	Replies(ctx context.Context, postID int64) ([]*Post, error)

	// Key/value
	GetKV(ctx context.Context, k string) (string, error)
	SetKV(ctx context.Context, k, v string) error
	DeleteKV(ctx context.Context, k string) error

	// Admins
	AddAdmin(ctx context.Context, id string) error
	RemoveAdmin(ctx context.Context, id string) error
	ListAdmins(ctx context.Context) ([]string, error)
	IsAdmin(ctx context.Context, id string) (bool, error)

	// Blacklist
	AddBlacklist(ctx context.Context, id string) error
	RemoveBlacklist(ctx context.Context, id string) error
	ListBlacklist(ctx context.Context) ([]string, error)
	IsBlacklisted(ctx context.Context, id string) (bool, error)

	// Peers
	AddPeer(ctx context.Context, id string) error
	RemovePeer(ctx context.Context, id string) error
	ListPeers(ctx context.Context) ([]*Peer, error)
	IsPeer(ctx context.Context, id string) (bool, error)
	TouchPeer(ctx context.Context, id string, ts int64) error

	// Peer-sync UID sets
	MarkSeenUID(ctx context.Context, uid string, ts int64) error
	MarkAppliedUID(ctx context.Context, uid string, ts int64) error
	IsAppliedUID(ctx context.Context, uid string) (bool, error)

	// Reassembly buffers
	CreateRxParts(ctx context.Context, uid string, total int, fromID string, ts int64) error
	AppendRxPart(ctx context.Context, uid, chunk string, total int) error
	GetRxParts(ctx context.Context, uid string) (*RxParts, error)
	DeleteRxParts(ctx context.Context, uid string) error
	PruneRxParts(ctx context.Context, olderThan int64) (int64, error)

	// DM queue
	EnqueueDM(ctx context.Context, toID, body string, ts int64) (int64, error)
	PendingDMs(ctx context.Context, toID string, limit int, minCreatedTS int64) ([]*DM, error)
	MarkDMDelivered(ctx context.Context, id, ts int64) error

	Counts(ctx context.Context) (*Counts, error)
	Close() error
}

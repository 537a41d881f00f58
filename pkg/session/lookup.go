package session

import "context"

// StoreLookup answers Lookup queries from a Store. Library adapters embed it
// when the remote side keeps no history of its own.
type StoreLookup struct {
	Store Store
}

func (l StoreLookup) MessageByTimestamp(ctx context.Context, thread Thread, timestamp uint64) (Content, error) {
	return l.Store.Message(ctx, thread, timestamp)
}

func (l StoreLookup) ContactByID(ctx context.Context, id string) (Contact, error) {
	return l.Store.Contact(ctx, id)
}

func (l StoreLookup) GroupByKey(ctx context.Context, key []byte) (Group, error) {
	return l.Store.Group(ctx, key)
}

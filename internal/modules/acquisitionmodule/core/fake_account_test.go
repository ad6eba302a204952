package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
)

// fakeAccount replays scripted root listings and records every call
type fakeAccount struct {
	mu sync.Mutex

	roots    []rootReply // consumed in order, the last one repeats
	folders  map[string]*seedr.Listing
	submit   *seedr.SubmitResult
	onSubmit func(ctx context.Context) error
	streams  map[string]string

	calls   []string
	deleted []string
	magnets []string
}

type rootReply struct {
	listing *seedr.Listing
	err     error
}

func newFakeAccount() *fakeAccount {
	return &fakeAccount{
		folders: make(map[string]*seedr.Listing),
		submit:  &seedr.SubmitResult{Accepted: true, TransferID: "77"},
		streams: make(map[string]string),
	}
}

func (f *fakeAccount) ListFolder(ctx context.Context, folderID string) (*seedr.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list:"+folderID)

	if folderID != RootFolderID {
		if l, ok := f.folders[folderID]; ok {
			return l, nil
		}
		return &seedr.Listing{}, nil
	}
	if len(f.roots) == 0 {
		return &seedr.Listing{}, nil
	}
	reply := f.roots[0]
	if len(f.roots) > 1 {
		f.roots = f.roots[1:]
	}
	return reply.listing, reply.err
}

func (f *fakeAccount) SubmitJob(ctx context.Context, magnet string) (*seedr.SubmitResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "submit")
	f.magnets = append(f.magnets, magnet)
	hook := f.onSubmit
	res := f.submit
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (f *fakeAccount) DeleteItem(ctx context.Context, id string, kind seedr.ItemKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete:"+id)
	f.deleted = append(f.deleted, fmt.Sprintf("%s:%s", kind, id))
	return nil
}

func (f *fakeAccount) ResolveStreamURL(ctx context.Context, fileID string) (*seedr.StreamURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stream:"+fileID)
	return &seedr.StreamURL{URL: f.streams[fileID]}, nil
}

func (f *fakeAccount) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAccount) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

// countPrefix counts logged calls starting with prefix
func (f *fakeAccount) countPrefix(prefix string) int {
	n := 0
	for _, c := range f.callLog() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func listing(transfers []seedr.Item, folders ...seedr.Item) rootReply {
	return rootReply{listing: &seedr.Listing{Folders: folders, Transfers: transfers}}
}

func transfer(name string, progress float64) seedr.Item {
	return seedr.Item{ID: "t-" + name, Name: name, Kind: seedr.KindTransfer, Progress: progress}
}

func folder(id, name string) seedr.Item {
	return seedr.Item{ID: id, Name: name, Kind: seedr.KindFolder, Progress: 100}
}

func file(id, name string) seedr.Item {
	return seedr.Item{ID: id, Name: name, Kind: seedr.KindFile, Progress: 100}
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/graph"
	"github.com/Benny93/anvil-go/internal/hint"
	"github.com/Benny93/anvil-go/internal/reference"
)

// Key prefixes for different data types
const (
	prefixHint = "h:" // h:{hint key}/{fq} -> msgpack record
	prefixDecl = "d:" // d:{fq}\x00{hint key} -> hint storage key
	prefixFile = "f:" // f:{file}\x00{hint key}/{fq} -> hint storage key
	prefixNode = "n:" // node data
	prefixRel  = "r:" // relationship data
)

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db          *badger.DB
	initialized bool
	readOnly    bool
	mu          sync.RWMutex
}

var _ Backend = (*BadgerBackend)(nil)

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.initialized = true
	b.readOnly = readOnly
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.initialized = false
	return err
}

func (b *BadgerBackend) checkOpen() error {
	if !b.initialized {
		return errors.New("storage backend is not initialized")
	}
	return nil
}

func hintStorageKey(r *hint.Record) []byte {
	return []byte(prefixHint + r.Key + "/" + r.FqName.String())
}

func declIndexKey(fq fqname.FqName, hintKey string) []byte {
	return []byte(prefixDecl + fq.String() + "\x00" + hintKey)
}

func fileIndexKey(file string, r *hint.Record) []byte {
	return []byte(prefixFile + file + "\x00" + r.Key + "/" + r.FqName.String())
}

// PutHints stores records, replacing records with the same key and
// qualified name.
func (b *BadgerBackend) PutHints(ctx context.Context, records []*hint.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := hintStorageKey(r)

			// Drop the file index of a record produced from another file.
			if old, err := getHint(txn, key); err == nil && old.File != r.File {
				if err := txn.Delete(fileIndexKey(old.File, old)); err != nil {
					return fmt.Errorf("deleting file index: %w", err)
				}
			}

			data, err := hint.Encode(r)
			if err != nil {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return fmt.Errorf("setting hint: %w", err)
			}
			if err := txn.Set(declIndexKey(r.FqName, r.Key), key); err != nil {
				return fmt.Errorf("setting declaration index: %w", err)
			}
			if err := txn.Set(fileIndexKey(r.File, r), key); err != nil {
				return fmt.Errorf("setting file index: %w", err)
			}
		}
		return nil
	})
}

func getHint(txn *badger.Txn, key []byte) (*hint.Record, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var r *hint.Record
	err = item.Value(func(val []byte) error {
		r, err = hint.Decode(val)
		return err
	})
	return r, err
}

// ScanHints returns the records under prefix in key order.
func (b *BadgerBackend) ScanHints(ctx context.Context, prefix string) ([]*hint.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var records []*hint.Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixHint + prefix + ".")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r *hint.Record
			if err := it.Item().Value(func(val []byte) error {
				var err error
				r, err = hint.Decode(val)
				return err
			}); err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning hints %s: %w", prefix, err)
	}
	return records, nil
}

// GetHints returns the records of one declaration.
func (b *BadgerBackend) GetHints(ctx context.Context, fq fqname.FqName) ([]*hint.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return b.hintsOf(fq)
}

func (b *BadgerBackend) hintsOf(fq fqname.FqName) ([]*hint.Record, error) {
	var records []*hint.Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixDecl + fq.String() + "\x00")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			r, err := getHint(txn, key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading hints of %s: %w", fq, err)
	}
	return records, nil
}

// AnnotationMetadata implements reference.MetadataSource.
func (b *BadgerBackend) AnnotationMetadata(fq fqname.FqName) ([]reference.AnnotationMetadata, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.checkOpen() != nil {
		return nil, false
	}
	records, err := b.hintsOf(fq)
	if err != nil || len(records) == 0 {
		return nil, false
	}
	return records[0].Annotations, true
}

// RemoveHintsByFile deletes the records produced from one file.
func (b *BadgerBackend) RemoveHintsByFile(ctx context.Context, filePath string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	count := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixFile + filePath + "\x00")
		it := txn.NewIterator(opts)

		var fileKeys, hintKeys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			fileKeys = append(fileKeys, item.KeyCopy(nil))
			key, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			hintKeys = append(hintKeys, key)
		}
		it.Close()

		for i, key := range hintKeys {
			r, err := getHint(txn, key)
			if err == nil {
				if err := txn.Delete(declIndexKey(r.FqName, r.Key)); err != nil {
					return fmt.Errorf("deleting declaration index: %w", err)
				}
				count++
			}
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("deleting hint: %w", err)
			}
			if err := txn.Delete(fileKeys[i]); err != nil {
				return fmt.Errorf("deleting file index: %w", err)
			}
		}
		return nil
	})
	return count, err
}

// BulkLoad replaces the stored graph with the contents of g.
func (b *BadgerBackend) BulkLoad(ctx context.Context, g *graph.ContributionGraph) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := b.db.DropPrefix([]byte(prefixNode), []byte(prefixRel)); err != nil {
		return fmt.Errorf("dropping graph: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for node := range g.Nodes() {
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("marshaling node: %w", err)
		}
		if err := wb.Set([]byte(prefixNode+node.ID), data); err != nil {
			return fmt.Errorf("setting node: %w", err)
		}
	}

	for rel := range g.Relationships() {
		data, err := json.Marshal(rel)
		if err != nil {
			return fmt.Errorf("marshaling relationship: %w", err)
		}
		if err := wb.Set([]byte(prefixRel+rel.ID), data); err != nil {
			return fmt.Errorf("setting relationship: %w", err)
		}
	}

	return wb.Flush()
}

// LoadGraph reads the stored graph.
func (b *BadgerBackend) LoadGraph(ctx context.Context) (*graph.ContributionGraph, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	g := graph.NewContributionGraph()
	err := b.db.View(func(txn *badger.Txn) error {
		if err := iterateJSON(txn, prefixNode, func(node *graph.GraphNode) { g.AddNode(node) }); err != nil {
			return err
		}
		return iterateJSON(txn, prefixRel, func(rel *graph.GraphRelationship) { g.AddRelationship(rel) })
	})
	if err != nil {
		return nil, fmt.Errorf("loading graph: %w", err)
	}
	return g, nil
}

func iterateJSON[T any](txn *badger.Txn, prefix string, fn func(*T)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		v := new(T)
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		}); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", bytes.TrimSuffix([]byte(prefix), []byte(":")), err)
		}
		fn(v)
	}
	return nil
}

// GetNode returns a single node by ID, or nil if not found.
func (b *BadgerBackend) GetNode(ctx context.Context, nodeID string) (*graph.GraphNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	item, err := txn.Get([]byte(prefixNode + nodeID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting node: %w", err)
	}

	var node graph.GraphNode
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}

	return &node, nil
}

// GetNodesByLabel returns all nodes with the given label.
func (b *BadgerBackend) GetNodesByLabel(ctx context.Context, label graph.NodeLabel) ([]*graph.GraphNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var nodes []*graph.GraphNode
	err := b.db.View(func(txn *badger.Txn) error {
		return iterateJSON(txn, prefixNode+string(label)+":", func(node *graph.GraphNode) {
			nodes = append(nodes, node)
		})
	})
	return nodes, err
}

// Stats returns record counts.
func (b *BadgerBackend) Stats(ctx context.Context) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return Stats{}, err
	}

	var s Stats
	files := make(map[string]bool)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			switch {
			case bytes.HasPrefix(key, []byte(prefixHint)):
				s.Hints++
			case bytes.HasPrefix(key, []byte(prefixFile)):
				file, _, _ := bytes.Cut(key[len(prefixFile):], []byte{0})
				files[string(file)] = true
			case bytes.HasPrefix(key, []byte(prefixNode)):
				s.Nodes++
			case bytes.HasPrefix(key, []byte(prefixRel)):
				s.Relationships++
			}
		}
		return nil
	})
	s.Files = len(files)
	return s, err
}

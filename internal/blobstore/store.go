// Package blobstore implements the per-case filesystem layer: a sharded
// append-only block-file key/value store for serialized ensemble nodes,
// the binary mount-descriptor file, the advisory lock file, and auxiliary
// singleton blobs (time map, state map, summary-key set, misfit ensemble).
package blobstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const numShards = 8

// Key identifies one stored node: its name, report step, and realization.
type Key struct {
	NodeKey     string
	ReportStep  int
	Realization int
	Category    DriverCategory
}

func (k Key) encode() string {
	return fmt.Sprintf("%s/%d/%d", k.NodeKey, k.ReportStep, k.Realization)
}

type shard struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	offset map[string]int64 // key -> offset of its most recent record in f
}

// Store is a per-case block-file KV store. A Store opened without the case
// write lock is read-only: writes return an error instead of panicking.
type Store struct {
	dir      string
	shards   [numShards]*shard
	readOnly bool
	lock     *Lock
}

// Open opens (creating if absent) the block store rooted at dir. It
// attempts to acquire the case's advisory write lock; if another process
// holds it, the Store opens read-only (spec 6, "Lock file").
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blocks"), 0o755); err != nil {
		return nil, err
	}
	s := &Store{dir: dir}
	lockPath := filepath.Join(dir, filepath.Base(dir)+".lock")
	lk, err := AcquireLock(lockPath)
	if err != nil {
		if err == ErrCaseLocked {
			s.readOnly = true
		} else {
			return nil, err
		}
	} else {
		s.lock = lk
	}
	for i := 0; i < numShards; i++ {
		sh, err := openShard(filepath.Join(dir, "blocks", fmt.Sprintf("shard-%d.dat", i)))
		if err != nil {
			return nil, err
		}
		s.shards[i] = sh
	}
	return s, nil
}

// Close releases the write lock, if held, and closes shard files.
func (s *Store) Close() error {
	for _, sh := range s.shards {
		if sh != nil && sh.f != nil {
			sh.f.Close()
		}
	}
	if s.lock != nil {
		return s.lock.Release()
	}
	return nil
}

// ReadOnly reports whether this Store failed to acquire the write lock.
func (s *Store) ReadOnly() bool { return s.readOnly }

func openShard(path string) (*shard, error) {
	sh := &shard{path: path, offset: map[string]int64{}}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	sh.f = f
	if err := sh.rebuildIndex(); err != nil {
		return nil, err
	}
	return sh, nil
}

// rebuildIndex scans the shard file sequentially on open, so the last
// record written for a key wins in the in-memory offset index — the
// append-only-log-as-overwrite idiom.
func (sh *shard) rebuildIndex() error {
	if _, err := sh.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var offset int64
	for {
		recStart := offset
		var keyLen uint32
		if err := binary.Read(sh.f, binary.LittleEndian, &keyLen); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		offset += 4
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(sh.f, key); err != nil {
			return err
		}
		offset += int64(keyLen)
		var dataLen uint32
		if err := binary.Read(sh.f, binary.LittleEndian, &dataLen); err != nil {
			return err
		}
		offset += 4
		if _, err := sh.f.Seek(int64(dataLen), io.SeekCurrent); err != nil {
			return err
		}
		offset += int64(dataLen)
		sh.offset[string(key)] = recStart
	}
	return nil
}

func (sh *shard) put(key string, data []byte) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	pos, err := sh.f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(len(key)))
	buf.WriteString(key)
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	if _, err := sh.f.Write(buf.Bytes()); err != nil {
		return err
	}
	sh.offset[key] = pos
	return nil
}

func (sh *shard) get(key string) ([]byte, bool, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	pos, ok := sh.offset[key]
	if !ok {
		return nil, false, nil
	}
	if _, err := sh.f.Seek(pos, io.SeekStart); err != nil {
		return nil, false, err
	}
	var keyLen uint32
	if err := binary.Read(sh.f, binary.LittleEndian, &keyLen); err != nil {
		return nil, false, err
	}
	if _, err := sh.f.Seek(int64(keyLen), io.SeekCurrent); err != nil {
		return nil, false, err
	}
	var dataLen uint32
	if err := binary.Read(sh.f, binary.LittleEndian, &dataLen); err != nil {
		return nil, false, err
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(sh.f, data); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%numShards]
}

// Put stores data under k. Parameter-category nodes may only be written at
// report_step 0 (spec 4.6 invariant; violations abort the caller).
func (s *Store) Put(k Key, data []byte) error {
	if s.readOnly {
		return fmt.Errorf("blobstore: store is read-only, case lock held elsewhere")
	}
	if k.Category == Parameter && k.ReportStep != 0 {
		panic(fmt.Sprintf("blobstore: parameter node %q written at report_step=%d, must be 0", k.NodeKey, k.ReportStep))
	}
	return s.shardFor(k.encode()).put(k.encode(), data)
}

// Get retrieves the blob stored under k, if any.
func (s *Store) Get(k Key) ([]byte, bool, error) {
	return s.shardFor(k.encode()).get(k.encode())
}

// auxiliary singleton keys, stored as ordinary blobs with fixed node keys.
const (
	auxTimeMap        = "__time-map"
	auxStateMap        = "__state-map"
	auxSummaryKeySet   = "__summary-key-set"
	auxMisfitEnsemble  = "__misfit-ensemble"
)

func auxKey(name string) Key { return Key{NodeKey: name, Category: Index} }

func putGob(s *Store, key Key, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	return s.Put(key, buf.Bytes())
}

func getGob(s *Store, key Key, v any) (bool, error) {
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return ok, err
	}
	return true, gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// PutTimeMap persists the case-wide report-step-to-simulated-time mapping.
func (s *Store) PutTimeMap(v map[int]int64) error { return putGob(s, auxKey(auxTimeMap), v) }

// GetTimeMap loads the time map, if present.
func (s *Store) GetTimeMap() (map[int]int64, bool, error) {
	v := map[int]int64{}
	ok, err := getGob(s, auxKey(auxTimeMap), &v)
	return v, ok, err
}

// StateMapEntry records a realization's LOAD outcome for one report step.
type StateMapEntry struct {
	RealizationFailed bool
	Reason            string
}

// PutStateMap persists the realization LOAD-status map (spec 7, error
// taxonomy item 3: failures are recorded here and excluded from the next
// ens_mask).
func (s *Store) PutStateMap(v map[int]StateMapEntry) error { return putGob(s, auxKey(auxStateMap), v) }

// GetStateMap loads the state map, if present.
func (s *Store) GetStateMap() (map[int]StateMapEntry, bool, error) {
	v := map[int]StateMapEntry{}
	ok, err := getGob(s, auxKey(auxStateMap), &v)
	return v, ok, err
}

// PutSummaryKeySet persists the set of observation/summary keys referenced
// by the current run.
func (s *Store) PutSummaryKeySet(keys []string) error {
	return putGob(s, auxKey(auxSummaryKeySet), keys)
}

// GetSummaryKeySet loads the summary key set, if present.
func (s *Store) GetSummaryKeySet() ([]string, bool, error) {
	var v []string
	ok, err := getGob(s, auxKey(auxSummaryKeySet), &v)
	return v, ok, err
}

// PutMisfitEnsemble persists one outer iteration's misfit-ranking output
// (index -> misfit value), so callers can replay ranking history without
// rerunning the update kernel.
func (s *Store) PutMisfitEnsemble(iteration int, misfits map[int]float64) error {
	key := fmt.Sprintf("%s/%d", auxMisfitEnsemble, iteration)
	return putGob(s, auxKey(key), misfits)
}

// GetMisfitEnsemble loads the misfit ranking for a given outer iteration.
func (s *Store) GetMisfitEnsemble(iteration int) (map[int]float64, bool, error) {
	key := fmt.Sprintf("%s/%d", auxMisfitEnsemble, iteration)
	v := map[int]float64{}
	ok, err := getGob(s, auxKey(key), &v)
	return v, ok, err
}

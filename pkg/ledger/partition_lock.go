package ledger

import (
	"sort"
	"sync"
)

// partitionLocks serializes in-process mutations per partition. Mutations
// on different partitions proceed in parallel; the map only ever grows to
// the number of live partitions.
// パーティション単位でプロセス内の変更を直列化する。異なるパーティションの
// 変更は並行して進む。
type partitionLocks struct {
	mu    sync.Mutex
	locks map[Partition]*sync.Mutex
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{locks: make(map[Partition]*sync.Mutex)}
}

func (l *partitionLocks) get(p Partition) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[p]
	if !ok {
		m = &sync.Mutex{}
		l.locks[p] = m
	}
	return m
}

// Lock acquires the mutex for one partition and returns its unlock func
// 1パーティションのミューテックスを取得し、解放関数を返す
func (l *partitionLocks) Lock(p Partition) func() {
	m := l.get(p)
	m.Lock()
	return m.Unlock
}

// LockPair acquires both partitions in a deterministic order so that two
// concurrent transfers between the same locations cannot deadlock.
// 同一拠点間の並行振替がデッドロックしないよう、決定的な順序で両パーティションを取得する。
func (l *partitionLocks) LockPair(a, b Partition) func() {
	if a == b {
		return l.Lock(a)
	}
	pair := []Partition{a, b}
	sort.Slice(pair, func(i, j int) bool { return pair[i].String() < pair[j].String() })
	unlockFirst := l.Lock(pair[0])
	unlockSecond := l.Lock(pair[1])
	return func() {
		unlockSecond()
		unlockFirst()
	}
}

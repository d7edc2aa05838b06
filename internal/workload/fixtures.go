// Package workload provides the fixtures and the simulated election-PoSt
// proof that workers run once per iteration.
package workload

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"

	"github.com/pingcap/errors"

	"gpucputest/internal/core"
)

// ChallengeWindow is the number of replica bytes each candidate ticket covers.
const ChallengeWindow = 32

// SectorID identifies a replica.
type SectorID uint64

// Replica is the sealed data of one sector together with its commitment.
type Replica struct {
	Data  []byte
	CommR [32]byte
}

// Candidate is one election challenge against a replica.
type Candidate struct {
	SectorID        SectorID
	ChallengeOffset int
	Ticket          [32]byte
}

// Fixtures is the input to ElectionPoSt. Treat it as immutable once built.
type Fixtures struct {
	Replicas   map[SectorID]Replica
	Candidates []Candidate
}

var _ core.Fixtures = (*Fixtures)(nil)

// BuildOptions controls fixture generation.
type BuildOptions struct {
	Seed                int64
	Sectors             int
	SectorSize          int
	CandidatesPerSector int
}

// Builder implements core.FixtureBuilder.
type Builder struct {
	Options BuildOptions
}

func (b Builder) Build() (core.Fixtures, error) {
	return BuildFixtures(b.Options)
}

// BuildFixtures deterministically generates replicas and candidates from opts.Seed.
func BuildFixtures(opts BuildOptions) (*Fixtures, error) {
	if opts.Sectors < 1 {
		return nil, errors.Errorf("sectors must be >= 1, got %d", opts.Sectors)
	}
	if opts.SectorSize < ChallengeWindow {
		return nil, errors.Errorf("sector size must be >= %d bytes, got %d", ChallengeWindow, opts.SectorSize)
	}
	if opts.CandidatesPerSector < 1 {
		return nil, errors.Errorf("candidates per sector must be >= 1, got %d", opts.CandidatesPerSector)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	f := &Fixtures{
		Replicas:   make(map[SectorID]Replica, opts.Sectors),
		Candidates: make([]Candidate, 0, opts.Sectors*opts.CandidatesPerSector),
	}
	for i := 0; i < opts.Sectors; i++ {
		id := SectorID(i + 1)
		data := make([]byte, opts.SectorSize)
		rng.Read(data)
		f.Replicas[id] = Replica{Data: data, CommR: sha256.Sum256(data)}

		for j := 0; j < opts.CandidatesPerSector; j++ {
			offset := rng.Intn(opts.SectorSize - ChallengeWindow + 1)
			f.Candidates = append(f.Candidates, Candidate{
				SectorID:        id,
				ChallengeOffset: offset,
				Ticket:          ticket(id, data, offset),
			})
		}
	}
	return f, nil
}

// Clone returns a deep copy sharing no memory with f.
func (f *Fixtures) Clone() core.Fixtures {
	c := &Fixtures{
		Replicas:   make(map[SectorID]Replica, len(f.Replicas)),
		Candidates: make([]Candidate, len(f.Candidates)),
	}
	for id, r := range f.Replicas {
		data := make([]byte, len(r.Data))
		copy(data, r.Data)
		c.Replicas[id] = Replica{Data: data, CommR: r.CommR}
	}
	copy(c.Candidates, f.Candidates)
	return c
}

// Digest hashes replicas in sector order followed by candidates in order.
func (f *Fixtures) Digest() [32]byte {
	ids := make([]SectorID, 0, len(f.Replicas))
	for id := range f.Replicas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	h := sha256.New()
	var buf [8]byte
	for _, id := range ids {
		r := f.Replicas[id]
		binary.BigEndian.PutUint64(buf[:], uint64(id))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(len(r.Data)))
		h.Write(buf[:])
		h.Write(r.Data)
		h.Write(r.CommR[:])
	}
	for _, c := range f.Candidates {
		binary.BigEndian.PutUint64(buf[:], uint64(c.SectorID))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(c.ChallengeOffset))
		h.Write(buf[:])
		h.Write(c.Ticket[:])
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func ticket(id SectorID, data []byte, offset int) [32]byte {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	h.Write(buf[:])
	h.Write(data[offset : offset+ChallengeWindow])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

package bm25

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// magic identifies a BM25 index file; format version bumps on any layout
// change, independent of TokenizerVersion which tracks the tokenizer only.
const (
	fileMagic   uint32 = 0x424d3235 // "BM25"
	formatVersion uint32 = 1
)

// ErrVersionMismatch signals the persisted file doesn't match the current
// format or tokenizer version; callers must rebuild from the repository.
var ErrVersionMismatch = errors.New("bm25: persisted index version mismatch")

// header is the fixed-size record at the start of every .idx file.
type header struct {
	Magic           uint32
	FormatVersion   uint32
	TokenizerVersion uint32
	N               uint32
	TotalLen        uint64
}

// Save writes idx to path as a stable binary record stream: header, a doc
// table (count, then (chunk_id, length)*), then a term table (count, then
// per term: term, posting count = df, and its postings (chunk_id, tf)*
// inline) (§4.2 "Persistence format"). Documents' owning document ids are
// not written.
func Save(idx *Index, path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("bm25: create temp file: %w", err)
	}
	w := bufio.NewWriter(f)

	h := header{
		Magic:            fileMagic,
		FormatVersion:    formatVersion,
		TokenizerVersion: uint32(TokenizerVersion),
		N:                uint32(len(idx.docs)),
		TotalLen:         uint64(idx.totalLen),
	}
	if err := writeHeader(w, h); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	if err := writeUint32(w, uint32(len(idx.docs))); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for id, entry := range idx.docs {
		if err := writeUint32(w, uint32(id)); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if err := writeUint32(w, uint32(entry.length)); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}

	if err := writeUint32(w, uint32(len(idx.postings))); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for term, list := range idx.postings {
		if err := writeString(w, term); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if err := writeUint32(w, uint32(len(list))); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		for _, p := range list {
			if err := writeUint32(w, uint32(p.chunkID)); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
			if err := writeUint32(w, uint32(p.tf)); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads path back into a fresh *Index. It returns ErrVersionMismatch
// (never a partially-loaded index) if the format or tokenizer version
// doesn't match what this build expects.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if h.Magic != fileMagic || h.FormatVersion != formatVersion || h.TokenizerVersion != uint32(TokenizerVersion) {
		return nil, ErrVersionMismatch
	}

	idx := NewIndex()
	idx.totalLen = int(h.TotalLen)

	docCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < docCount; i++ {
		id, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		length, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		idx.docs[uint(id)] = docEntry{length: int(length)}
	}

	termCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < termCount; i++ {
		term, err := readString(r)
		if err != nil {
			return nil, err
		}
		postingCount, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		list := make([]posting, postingCount)
		for j := uint32(0); j < postingCount; j++ {
			chunkID, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			tf, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			list[j] = posting{chunkID: uint(chunkID), tf: int(tf)}
		}
		idx.postings[term] = list
	}

	return idx, nil
}

func writeHeader(w io.Writer, h header) error {
	if err := writeUint32(w, h.Magic); err != nil {
		return err
	}
	if err := writeUint32(w, h.FormatVersion); err != nil {
		return err
	}
	if err := writeUint32(w, h.TokenizerVersion); err != nil {
		return err
	}
	if err := writeUint32(w, h.N); err != nil {
		return err
	}
	return writeUint64(w, h.TotalLen)
}

func readHeader(r io.Reader) (header, error) {
	var h header
	var err error
	if h.Magic, err = readUint32(r); err != nil {
		return h, err
	}
	if h.FormatVersion, err = readUint32(r); err != nil {
		return h, err
	}
	if h.TokenizerVersion, err = readUint32(r); err != nil {
		return h, err
	}
	if h.N, err = readUint32(r); err != nil {
		return h, err
	}
	if h.TotalLen, err = readUint64(r); err != nil {
		return h, err
	}
	return h, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Package manifest implements the append-only catalog of the database: a
// typed, tagged-record log listing the identity of the database and the
// lifecycle of WAL and SSTable files, selected by the CURRENT pointer file.
package manifest

import (
	"errors"
	"fmt"
	"io"

	"terrierdb/utils/varint"
)

// Entry type codes.
const (
	TYPE_LOG_NUMBER        uint64 = 1
	TYPE_PREV_FILE_NUMBER  uint64 = 2
	TYPE_NEXT_FILE_NUMBER  uint64 = 3
	TYPE_LAST_SEQUENCE     uint64 = 4
	TYPE_MAX_COLUMN_FAMILY uint64 = 5
	TYPE_DELETED_FILE      uint64 = 6
	TYPE_NEW_FILE          uint64 = 7
	TYPE_IN_ATOMIC_GROUP   uint64 = 8
	TYPE_DB_ID             uint64 = 9
	TYPE_WAL_ADDITION      uint64 = 10
	TYPE_WAL_DELETION      uint64 = 11
)

// NewFile tag codes.
const (
	NEW_FILE_TAG_TERMINATE               uint64 = 0
	NEW_FILE_TAG_NEED_COMPACTION         uint64 = 1
	NEW_FILE_TAG_FILE_CREATION_TIME      uint64 = 2
	NEW_FILE_TAG_FILE_CHECKSUM           uint64 = 3
	NEW_FILE_TAG_FILE_CHECKSUM_FUNC_NAME uint64 = 4
)

// WalAddition tag codes.
const (
	WAL_TAG_TERMINATE   uint64 = 0
	WAL_TAG_SYNCED_SIZE uint64 = 1
)

// ErrCorrupt reports a structurally invalid manifest: an unknown entry or
// tag type, or a DbId that is not valid UTF-8.
var ErrCorrupt = errors.New("manifest: corrupt")

// Entry is one typed record in the manifest log.
type Entry interface {
	entryType() uint64
	writeFields(w io.Writer) error
}

// Write encodes an entry as its varint type code followed by its fields.
func Write(w io.Writer, e Entry) error {
	if err := varint.Write(w, e.entryType()); err != nil {
		return err
	}
	return e.writeFields(w)
}

type LogNumber struct{ LogNumber uint64 }

func (e LogNumber) entryType() uint64 { return TYPE_LOG_NUMBER }
func (e LogNumber) writeFields(w io.Writer) error {
	return varint.Write(w, e.LogNumber)
}

type PrevFileNumber struct{ FileNumber uint64 }

func (e PrevFileNumber) entryType() uint64 { return TYPE_PREV_FILE_NUMBER }
func (e PrevFileNumber) writeFields(w io.Writer) error {
	return varint.Write(w, e.FileNumber)
}

type NextFileNumber struct{ FileNumber uint64 }

func (e NextFileNumber) entryType() uint64 { return TYPE_NEXT_FILE_NUMBER }
func (e NextFileNumber) writeFields(w io.Writer) error {
	return varint.Write(w, e.FileNumber)
}

type LastSequence struct{ Sequence uint64 }

func (e LastSequence) entryType() uint64 { return TYPE_LAST_SEQUENCE }
func (e LastSequence) writeFields(w io.Writer) error {
	return varint.Write(w, e.Sequence)
}

type MaxColumnFamily struct{ MaxColumnFamily uint32 }

func (e MaxColumnFamily) entryType() uint64 { return TYPE_MAX_COLUMN_FAMILY }
func (e MaxColumnFamily) writeFields(w io.Writer) error {
	return varint.Write(w, uint64(e.MaxColumnFamily))
}

type DeletedFile struct {
	Level      uint32
	FileNumber uint64
}

func (e DeletedFile) entryType() uint64 { return TYPE_DELETED_FILE }
func (e DeletedFile) writeFields(w io.Writer) error {
	if err := varint.Write(w, uint64(e.Level)); err != nil {
		return err
	}
	return varint.Write(w, e.FileNumber)
}

// NewFileTag is optional metadata attached to a NewFile entry.
type NewFileTag interface {
	tagType() uint64
	writeFields(w io.Writer) error
}

type NeedCompaction struct{}

func (t NeedCompaction) tagType() uint64               { return NEW_FILE_TAG_NEED_COMPACTION }
func (t NeedCompaction) writeFields(w io.Writer) error { return nil }

type FileCreationTime struct{ Time uint64 }

func (t FileCreationTime) tagType() uint64 { return NEW_FILE_TAG_FILE_CREATION_TIME }
func (t FileCreationTime) writeFields(w io.Writer) error {
	return varint.Write(w, t.Time)
}

type FileChecksum struct{ Checksum uint32 }

func (t FileChecksum) tagType() uint64 { return NEW_FILE_TAG_FILE_CHECKSUM }
func (t FileChecksum) writeFields(w io.Writer) error {
	return varint.Write(w, uint64(t.Checksum))
}

type FileChecksumFuncName struct{ FuncName string }

func (t FileChecksumFuncName) tagType() uint64 { return NEW_FILE_TAG_FILE_CHECKSUM_FUNC_NAME }
func (t FileChecksumFuncName) writeFields(w io.Writer) error {
	return varint.WriteString(w, t.FuncName)
}

type NewFile struct {
	Level         uint32
	FileNumber    uint64
	FileSize      uint64
	Smallest      []byte
	Largest       []byte
	SmallestSeqNo uint64
	LargestSeqNo  uint64
	Tags          []NewFileTag
}

func (e NewFile) entryType() uint64 { return TYPE_NEW_FILE }
func (e NewFile) writeFields(w io.Writer) error {
	if err := varint.Write(w, uint64(e.Level)); err != nil {
		return err
	}
	if err := varint.Write(w, e.FileNumber); err != nil {
		return err
	}
	if err := varint.Write(w, e.FileSize); err != nil {
		return err
	}
	if err := varint.WriteBytes(w, e.Smallest); err != nil {
		return err
	}
	if err := varint.WriteBytes(w, e.Largest); err != nil {
		return err
	}
	if err := varint.Write(w, e.SmallestSeqNo); err != nil {
		return err
	}
	if err := varint.Write(w, e.LargestSeqNo); err != nil {
		return err
	}
	for _, tag := range e.Tags {
		if err := varint.Write(w, tag.tagType()); err != nil {
			return err
		}
		if err := tag.writeFields(w); err != nil {
			return err
		}
	}
	return varint.Write(w, NEW_FILE_TAG_TERMINATE)
}

type InAtomicGroup struct{ VersionEditCount uint32 }

func (e InAtomicGroup) entryType() uint64 { return TYPE_IN_ATOMIC_GROUP }
func (e InAtomicGroup) writeFields(w io.Writer) error {
	return varint.Write(w, uint64(e.VersionEditCount))
}

type DbId struct{ DbId string }

func (e DbId) entryType() uint64 { return TYPE_DB_ID }
func (e DbId) writeFields(w io.Writer) error {
	return varint.WriteString(w, e.DbId)
}

// WalTag is optional metadata attached to a WalAddition entry.
type WalTag interface {
	walTagType() uint64
	writeFields(w io.Writer) error
}

type SyncedSize struct{ Size uint64 }

func (t SyncedSize) walTagType() uint64 { return WAL_TAG_SYNCED_SIZE }
func (t SyncedSize) writeFields(w io.Writer) error {
	return varint.Write(w, t.Size)
}

type WalAddition struct {
	LogNumber uint64
	Tags      []WalTag
}

func (e WalAddition) entryType() uint64 { return TYPE_WAL_ADDITION }
func (e WalAddition) writeFields(w io.Writer) error {
	if err := varint.Write(w, e.LogNumber); err != nil {
		return err
	}
	for _, tag := range e.Tags {
		if err := varint.Write(w, tag.walTagType()); err != nil {
			return err
		}
		if err := tag.writeFields(w); err != nil {
			return err
		}
	}
	return varint.Write(w, WAL_TAG_TERMINATE)
}

type WalDeletion struct{ LogNumber uint64 }

func (e WalDeletion) entryType() uint64 { return TYPE_WAL_DELETION }
func (e WalDeletion) writeFields(w io.Writer) error {
	return varint.Write(w, e.LogNumber)
}

// ReadEntry decodes the next entry from r. io.EOF before the first byte
// means a clean end of the log.
func ReadEntry(r varint.Reader) (Entry, error) {
	entryType, err := varint.Read(r)
	if err != nil {
		return nil, err
	}
	switch entryType {
	case TYPE_LOG_NUMBER:
		n, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		return LogNumber{LogNumber: n}, nil
	case TYPE_PREV_FILE_NUMBER:
		n, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		return PrevFileNumber{FileNumber: n}, nil
	case TYPE_NEXT_FILE_NUMBER:
		n, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		return NextFileNumber{FileNumber: n}, nil
	case TYPE_LAST_SEQUENCE:
		n, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		return LastSequence{Sequence: n}, nil
	case TYPE_MAX_COLUMN_FAMILY:
		n, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		return MaxColumnFamily{MaxColumnFamily: uint32(n)}, nil
	case TYPE_DELETED_FILE:
		level, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		fileNumber, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		return DeletedFile{Level: uint32(level), FileNumber: fileNumber}, nil
	case TYPE_NEW_FILE:
		return readNewFile(r)
	case TYPE_IN_ATOMIC_GROUP:
		n, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		return InAtomicGroup{VersionEditCount: uint32(n)}, nil
	case TYPE_DB_ID:
		id, err := varint.ReadString(r)
		if err != nil {
			if errors.Is(err, varint.ErrInvalidString) {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			return nil, err
		}
		return DbId{DbId: id}, nil
	case TYPE_WAL_ADDITION:
		return readWalAddition(r)
	case TYPE_WAL_DELETION:
		n, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		return WalDeletion{LogNumber: n}, nil
	default:
		return nil, fmt.Errorf("%w: unknown entry type %d", ErrCorrupt, entryType)
	}
}

func readNewFile(r varint.Reader) (Entry, error) {
	var e NewFile
	level, err := varint.Read(r)
	if err != nil {
		return nil, err
	}
	e.Level = uint32(level)
	if e.FileNumber, err = varint.Read(r); err != nil {
		return nil, err
	}
	if e.FileSize, err = varint.Read(r); err != nil {
		return nil, err
	}
	if e.Smallest, err = varint.ReadBytes(r); err != nil {
		return nil, err
	}
	if e.Largest, err = varint.ReadBytes(r); err != nil {
		return nil, err
	}
	if e.SmallestSeqNo, err = varint.Read(r); err != nil {
		return nil, err
	}
	if e.LargestSeqNo, err = varint.Read(r); err != nil {
		return nil, err
	}

	for {
		tagType, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		switch tagType {
		case NEW_FILE_TAG_TERMINATE:
			return e, nil
		case NEW_FILE_TAG_NEED_COMPACTION:
			e.Tags = append(e.Tags, NeedCompaction{})
		case NEW_FILE_TAG_FILE_CREATION_TIME:
			t, err := varint.Read(r)
			if err != nil {
				return nil, err
			}
			e.Tags = append(e.Tags, FileCreationTime{Time: t})
		case NEW_FILE_TAG_FILE_CHECKSUM:
			c, err := varint.Read(r)
			if err != nil {
				return nil, err
			}
			e.Tags = append(e.Tags, FileChecksum{Checksum: uint32(c)})
		case NEW_FILE_TAG_FILE_CHECKSUM_FUNC_NAME:
			name, err := varint.ReadString(r)
			if err != nil {
				if errors.Is(err, varint.ErrInvalidString) {
					return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
				}
				return nil, err
			}
			e.Tags = append(e.Tags, FileChecksumFuncName{FuncName: name})
		default:
			return nil, fmt.Errorf("%w: unknown NewFile tag type %d", ErrCorrupt, tagType)
		}
	}
}

func readWalAddition(r varint.Reader) (Entry, error) {
	var e WalAddition
	logNumber, err := varint.Read(r)
	if err != nil {
		return nil, err
	}
	e.LogNumber = logNumber

	for {
		tagType, err := varint.Read(r)
		if err != nil {
			return nil, err
		}
		switch tagType {
		case WAL_TAG_TERMINATE:
			return e, nil
		case WAL_TAG_SYNCED_SIZE:
			size, err := varint.Read(r)
			if err != nil {
				return nil, err
			}
			e.Tags = append(e.Tags, SyncedSize{Size: size})
		default:
			return nil, fmt.Errorf("%w: unknown WAL tag type %d", ErrCorrupt, tagType)
		}
	}
}

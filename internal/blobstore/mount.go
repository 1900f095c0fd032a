package blobstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// DriverCategory identifies the kind of node a mount record describes
// (spec 6, "Mount file").
type DriverCategory int32

const (
	Parameter       DriverCategory = 1
	DynamicForecast DriverCategory = 3
	Index           DriverCategory = 4
)

const mountMagic uint32 = 0x454e5331 // "ENS1"
const mountVersion uint32 = 1

// MountRecord is one driver entry in the mount file.
type MountRecord struct {
	Category   DriverCategory
	DriverID   int32
	DriverInfo []byte
}

// WriteMountFile writes the binary mount-descriptor file: a magic number
// and version prefix, then a sequence of length-framed records.
func WriteMountFile(path string, records []MountRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, mountMagic); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, mountVersion); err != nil {
		return err
	}
	for _, r := range records {
		if err := binary.Write(f, binary.LittleEndian, int32(r.Category)); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, r.DriverID); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(len(r.DriverInfo))); err != nil {
			return err
		}
		if _, err := f.Write(r.DriverInfo); err != nil {
			return err
		}
	}
	return nil
}

// ReadMountFile reads and validates a mount file, returning its records.
func ReadMountFile(path string) ([]MountRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic, version uint32
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != mountMagic {
		return nil, fmt.Errorf("blobstore: bad mount file magic %x", magic)
	}
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != mountVersion {
		return nil, fmt.Errorf("blobstore: unsupported mount file version %d", version)
	}

	var records []MountRecord
	for {
		var cat, driverID int32
		if err := binary.Read(f, binary.LittleEndian, &cat); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if err := binary.Read(f, binary.LittleEndian, &driverID); err != nil {
			return nil, err
		}
		var infoLen uint32
		if err := binary.Read(f, binary.LittleEndian, &infoLen); err != nil {
			return nil, err
		}
		info := make([]byte, infoLen)
		if _, err := io.ReadFull(f, info); err != nil {
			return nil, err
		}
		records = append(records, MountRecord{Category: DriverCategory(cat), DriverID: driverID, DriverInfo: info})
	}
	return records, nil
}

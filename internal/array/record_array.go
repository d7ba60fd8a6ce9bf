// Copyright 2016 Aleksandr Demakin. All rights reserved.

package array

import (
	"github.com/pkg/errors"
)

// RecordArray is a fixed-size header followed by a fixed number of fixed-size records,
// placed over a byte slice, typically a mapped file region.
// It never copies data: At returns subslices of the underlying memory.
type RecordArray struct {
	data     []byte
	hdrSize  int
	elemSize int
	capacity int
}

// NewRecordArray places a record array over data.
// len(data) must be exactly CalcSize(capacity, hdrSize, elemSize) for some capacity.
func NewRecordArray(data []byte, hdrSize, elemSize int) (*RecordArray, error) {
	if hdrSize < 0 || elemSize <= 0 {
		return nil, errors.Errorf("invalid record array geometry: header %d, element %d", hdrSize, elemSize)
	}
	if len(data) < hdrSize {
		return nil, errors.Errorf("record array is too small: %d bytes, header needs %d", len(data), hdrSize)
	}
	body := len(data) - hdrSize
	if body%elemSize != 0 {
		return nil, errors.Errorf("record array size %d is not aligned to element size %d", len(data), elemSize)
	}
	return &RecordArray{
		data:     data,
		hdrSize:  hdrSize,
		elemSize: elemSize,
		capacity: body / elemSize,
	}, nil
}

// Header returns the header part of the array.
func (arr *RecordArray) Header() []byte {
	return arr.data[:arr.hdrSize:arr.hdrSize]
}

// Cap returns the number of records.
func (arr *RecordArray) Cap() int {
	return arr.capacity
}

// ElemSize returns the size of a record.
func (arr *RecordArray) ElemSize() int {
	return arr.elemSize
}

// InRange returns true, if i is a valid record index.
func (arr *RecordArray) InRange(i int) bool {
	return i >= 0 && i < arr.capacity
}

// At returns data of the i'th record. It panics, if i is out of range.
func (arr *RecordArray) At(i int) []byte {
	if !arr.InRange(i) {
		panic("index out of range")
	}
	start := arr.hdrSize + i*arr.elemSize
	end := start + arr.elemSize
	return arr.data[start:end:end]
}

// Zero clears the i'th record.
func (arr *RecordArray) Zero(i int) {
	rec := arr.At(i)
	for j := range rec {
		rec[j] = 0
	}
}

// Next returns the index following i in a circular fashion.
func (arr *RecordArray) Next(i int) int {
	return Next(i, arr.capacity)
}

// Prev returns the index preceding i in a circular fashion.
func (arr *RecordArray) Prev(i int) int {
	return Prev(i, arr.capacity)
}

// Next returns (i + 1) mod size. A negative i yields 0.
func Next(i, size int) int {
	if i < 0 {
		return 0
	}
	return (i + 1) % size
}

// Prev returns (i - 1) mod size. A negative i yields size - 1.
func Prev(i, size int) int {
	if i <= 0 {
		return size - 1
	}
	return i - 1
}

// CalcSize returns the size, needed to place a record array in memory.
func CalcSize(capacity, hdrSize, elemSize int) int {
	return hdrSize + capacity*elemSize
}

package core

import (
	"io"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
)

// Bitmap is a 32-bit Roaring bitmap over LocalIDs. It wraps the official
// roaring implementation and backs graph adjacency sets and inverted indexes.
// A Bitmap is not safe for concurrent use; owners serialize access.
type Bitmap struct {
	rb *roaring.Bitmap
}

// NewBitmap creates a new empty bitmap.
func NewBitmap() *Bitmap {
	return &Bitmap{
		rb: roaring.New(),
	}
}

// Add adds a LocalID to the bitmap.
func (b *Bitmap) Add(id LocalID) {
	b.rb.Add(uint32(id))
}

// Remove removes a LocalID from the bitmap.
func (b *Bitmap) Remove(id LocalID) {
	b.rb.Remove(uint32(id))
}

// Contains checks if a LocalID is in the bitmap.
func (b *Bitmap) Contains(id LocalID) bool {
	return b.rb.Contains(uint32(id))
}

// IsEmpty returns true if the bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.rb.IsEmpty()
}

// Cardinality returns the number of elements in the bitmap.
func (b *Bitmap) Cardinality() uint64 {
	return b.rb.GetCardinality()
}

// Clone returns a deep copy of the bitmap.
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{
		rb: b.rb.Clone(),
	}
}

// Iterator returns an iterator over the bitmap in ascending LocalID order.
func (b *Bitmap) Iterator() iter.Seq[LocalID] {
	return func(yield func(LocalID) bool) {
		it := b.rb.Iterator()
		for it.HasNext() {
			if !yield(LocalID(it.Next())) {
				return
			}
		}
	}
}

// And computes the intersection of two bitmaps in place.
func (b *Bitmap) And(other *Bitmap) {
	b.rb.And(other.rb)
}

// Or computes the union of two bitmaps in place.
func (b *Bitmap) Or(other *Bitmap) {
	b.rb.Or(other.rb)
}

// AndNot removes all elements of other from the bitmap.
func (b *Bitmap) AndNot(other *Bitmap) {
	b.rb.AndNot(other.rb)
}

// Clear removes all elements from the bitmap.
func (b *Bitmap) Clear() {
	b.rb.Clear()
}

// GetSizeInBytes returns the size of the bitmap in bytes.
func (b *Bitmap) GetSizeInBytes() uint64 {
	return b.rb.GetSizeInBytes()
}

// WriteTo serializes the bitmap to w using the portable roaring format.
func (b *Bitmap) WriteTo(w io.Writer) (int64, error) {
	return b.rb.WriteTo(w)
}

// ReadFrom replaces the bitmap contents with one deserialized from r.
func (b *Bitmap) ReadFrom(r io.Reader) (int64, error) {
	b.rb = roaring.New()
	return b.rb.ReadFrom(r)
}

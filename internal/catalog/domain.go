package catalog

import "time"

// Book is one catalogue record.
type Book struct {
	ID            int64
	Title         string
	Author        string
	ISBN          string
	Subject       string
	Location      string
	CopiesTotal   int
	CopiesOnShelf int
	PublishedYear int
	Summary       string
	CreatedAt     time.Time
}

// Available reports whether at least one copy is on the shelf.
func (b Book) Available() bool {
	return b.CopiesOnShelf > 0
}

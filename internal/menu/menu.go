package menu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mxschmitt/pg-catalog/internal/catalog"
	"go.uber.org/zap"
)

// Store is the item repository as seen by the menu.
type Store interface {
	Insert(ctx context.Context, item catalog.Item) error
	ListAll(ctx context.Context) ([]catalog.Item, error)
	Search(ctx context.Context, term string) ([]catalog.Item, error)
	GetByID(ctx context.Context, id int) (catalog.Item, bool, error)
	Update(ctx context.Context, id int, upd catalog.ItemUpdate) error
	Delete(ctx context.Context, id int) error
}

const banner = `
===== Catalog =====
1 - Add item
2 - List items
3 - Search by title/author
4 - Update item
5 - Delete item
0 - Exit
Choose: `

// Menu is the interactive console front end of the catalog.
type Menu struct {
	store  Store
	in     *bufio.Scanner
	out    io.Writer
	logger *zap.Logger
}

func New(store Store, in io.Reader, out io.Writer, logger *zap.Logger) *Menu {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Menu{
		store:  store,
		in:     bufio.NewScanner(in),
		out:    out,
		logger: logger,
	}
}

// errInputClosed ends the loop when the input stream runs dry.
var errInputClosed = errors.New("input closed")

// Run shows the menu until the user picks 0 or the input ends. Operation
// failures are reported to the user and never end the loop.
func (m *Menu) Run(ctx context.Context) error {
	for {
		m.printf("%s", banner)
		choice, err := m.readInt()
		if err != nil {
			return m.closed(err)
		}

		switch choice {
		case 1:
			err = m.addItem(ctx)
		case 2:
			m.listItems(ctx)
		case 3:
			err = m.searchItems(ctx)
		case 4:
			err = m.updateItem(ctx)
		case 5:
			err = m.deleteItem(ctx)
		case 0:
			m.printf("Bye.\n")
			return nil
		default:
			m.printf("Invalid option!\n")
		}
		if err != nil {
			return m.closed(err)
		}
	}
}

func (m *Menu) closed(err error) error {
	if errors.Is(err, errInputClosed) {
		m.printf("\n")
		return nil
	}
	return err
}

func (m *Menu) addItem(ctx context.Context) error {
	var item catalog.Item
	var err error

	if item.Title, err = m.prompt("Title: "); err != nil {
		return err
	}
	if item.Author, err = m.prompt("Author: "); err != nil {
		return err
	}
	m.printf("Year: ")
	if item.Year, err = m.readInt(); err != nil {
		return err
	}
	if item.Genre, err = m.prompt("Genre: "); err != nil {
		return err
	}
	if item.Details, err = m.prompt("Details: "); err != nil {
		return err
	}

	if err := m.store.Insert(ctx, item); err != nil {
		m.failed("adding item", err)
		return nil
	}
	m.printf("Item added.\n")
	return nil
}

func (m *Menu) listItems(ctx context.Context) {
	m.printf("\n=== Items ===\n")
	items, err := m.store.ListAll(ctx)
	if err != nil {
		m.failed("listing items", err)
		return
	}
	m.printItems(items)
}

func (m *Menu) searchItems(ctx context.Context) error {
	term, err := m.prompt("Search term (title/author): ")
	if err != nil {
		return err
	}

	items, err := m.store.Search(ctx, term)
	if err != nil {
		m.failed("searching items", err)
		return nil
	}
	m.printf("\n=== Search results ===\n")
	m.printItems(items)
	return nil
}

func (m *Menu) updateItem(ctx context.Context) error {
	m.printf("ID of the item to update: ")
	id, err := m.readInt()
	if err != nil {
		return err
	}

	item, ok := m.lookup(ctx, id, "updating item")
	if !ok {
		return nil
	}
	m.printf("Current item: %s (%s)\n", item.Title, item.Author)

	var upd catalog.ItemUpdate
	var title, author, genre, details string
	var year int

	if title, err = m.prompt("New title (blank keeps current): "); err != nil {
		return err
	}
	if author, err = m.prompt("New author (blank keeps current): "); err != nil {
		return err
	}
	m.printf("New year (0 keeps current): ")
	if year, err = m.readInt(); err != nil {
		return err
	}
	if genre, err = m.prompt("New genre (blank keeps current): "); err != nil {
		return err
	}
	if details, err = m.prompt("New details (blank keeps current): "); err != nil {
		return err
	}

	upd.Title = optional(title)
	upd.Author = optional(author)
	if year != 0 {
		upd.Year = &year
	}
	upd.Genre = optional(genre)
	upd.Details = optional(details)

	if err := m.store.Update(ctx, id, upd); err != nil {
		if errors.Is(err, catalog.ErrNoFields) {
			m.printf("No fields to update.\n")
			return nil
		}
		m.failed("updating item", err)
		return nil
	}
	m.printf("Item updated.\n")
	return nil
}

func (m *Menu) deleteItem(ctx context.Context) error {
	m.printf("ID of the item to delete: ")
	id, err := m.readInt()
	if err != nil {
		return err
	}

	item, ok := m.lookup(ctx, id, "deleting item")
	if !ok {
		return nil
	}
	m.printf("Item to delete: %s (%s)\n", item.Title, item.Author)

	answer, err := m.prompt("Confirm deletion? (Y/N): ")
	if err != nil {
		return err
	}
	if !confirmed(answer) {
		m.printf("Deletion cancelled.\n")
		return nil
	}

	if err := m.store.Delete(ctx, id); err != nil {
		m.failed("deleting item", err)
		return nil
	}
	m.printf("Item deleted.\n")
	return nil
}

// lookup fetches an item and reports a missing id or a storage failure.
func (m *Menu) lookup(ctx context.Context, id int, action string) (catalog.Item, bool) {
	item, found, err := m.store.GetByID(ctx, id)
	if err != nil {
		m.failed(action, err)
		return catalog.Item{}, false
	}
	if !found {
		m.printf("Item with ID %d not found.\n", id)
		return catalog.Item{}, false
	}
	return item, true
}

func (m *Menu) printItems(items []catalog.Item) {
	if len(items) == 0 {
		m.printf("No items found.\n")
		return
	}
	for _, item := range items {
		m.printf("%s\n", item)
	}
}

func (m *Menu) failed(action string, err error) {
	m.logger.Debug("Menu operation failed", zap.String("action", action), zap.Error(err))
	m.printf("Error %s: %v\n", action, err)
}

func (m *Menu) prompt(label string) (string, error) {
	m.printf("%s", label)
	return m.readLine()
}

func (m *Menu) readLine() (string, error) {
	if !m.in.Scan() {
		if err := m.in.Err(); err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return "", errInputClosed
	}
	return strings.TrimRight(m.in.Text(), "\r"), nil
}

// readInt keeps asking until the line holds a whole number.
func (m *Menu) readInt() (int, error) {
	for {
		line, err := m.readLine()
		if err != nil {
			return 0, err
		}
		if n, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			return n, nil
		}
		m.printf("Enter a valid number: ")
	}
}

func (m *Menu) printf(format string, args ...any) {
	fmt.Fprintf(m.out, format, args...)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// confirmed accepts the English and the Portuguese yes.
func confirmed(answer string) bool {
	switch strings.ToUpper(strings.TrimSpace(answer)) {
	case "Y", "S":
		return true
	}
	return false
}

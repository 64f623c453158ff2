package spreadsheet

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// AliasTable maps names to cells on one worksheet, in both directions.
// a name is bound to at most one cell and a cell carries at most one name.
type AliasTable struct {
	nameToCell map[string]CellAddress
	cellToName map[CellAddress]string
}

// AliasEntry is one alias binding
type AliasEntry struct {
	Name    string
	Address CellAddress
}

// NewAliasTable creates an empty alias table
func NewAliasTable() *AliasTable {
	return &AliasTable{
		nameToCell: make(map[string]CellAddress),
		cellToName: make(map[CellAddress]string),
	}
}

// isIdentifier checks the identifier grammar: a letter or underscore, then
// letters, digits or underscores
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, ch := range name {
		if i == 0 {
			if !unicode.IsLetter(ch) && ch != '_' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			return false
		}
	}
	return true
}

// addressShaped reports names like XFE1 or A1048577 that have the form of
// a cell address but fall outside the grid
func addressShaped(name string) bool {
	letters := 0
	for letters < len(name) && letters < 4 {
		ch := name[letters]
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') {
			break
		}
		letters++
	}
	if letters == 0 || letters > 3 || letters == len(name) {
		return false
	}
	for i := letters; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeName returns the NFC form used for alias and worksheet lookups
func NormalizeName(name string) string {
	if !utf8.ValidString(name) {
		return name
	}
	return norm.NFC.String(name)
}

// ValidateAliasName normalizes name and checks that it can be used as an
// alias: identifier grammar, not a cell address, not a boolean literal.
func ValidateAliasName(name string) (string, error) {
	normalized := NormalizeName(strings.TrimSpace(name))
	if !isIdentifier(normalized) {
		return "", newKindError(KindInvalidName, "invalid alias %q", name)
	}
	if IsA1(normalized) || addressShaped(normalized) {
		return "", newKindError(KindInvalidName, "alias %q collides with a cell address", name)
	}
	upper := strings.ToUpper(normalized)
	if upper == "TRUE" || upper == "FALSE" {
		return "", newKindError(KindInvalidName, "alias %q is a reserved word", name)
	}
	return normalized, nil
}

// Set binds name to addr. any previous name of addr is dropped. name must
// already be validated.
func (at *AliasTable) Set(addr CellAddress, name string) (previous string, err error) {
	if other, exists := at.nameToCell[name]; exists && other != addr {
		return "", newKindError(KindDuplicateAlias, "alias %q is already bound to %s", name, other.A1())
	}
	previous = at.cellToName[addr]
	if previous != "" {
		delete(at.nameToCell, previous)
	}
	at.nameToCell[name] = addr
	at.cellToName[addr] = name
	return previous, nil
}

// Remove drops the alias of addr, returning the removed name
func (at *AliasTable) Remove(addr CellAddress) (string, bool) {
	name, exists := at.cellToName[addr]
	if !exists {
		return "", false
	}
	delete(at.cellToName, addr)
	delete(at.nameToCell, name)
	return name, true
}

// Rename moves an alias to a new name, keeping its cell
func (at *AliasTable) Rename(oldName, newName string) (CellAddress, error) {
	addr, exists := at.nameToCell[oldName]
	if !exists {
		return CellAddress{}, newKindError(KindUnknownAlias, "unknown alias %q", oldName)
	}
	if other, taken := at.nameToCell[newName]; taken && other != addr {
		return CellAddress{}, newKindError(KindDuplicateAlias, "alias %q is already bound to %s", newName, other.A1())
	}
	delete(at.nameToCell, oldName)
	at.nameToCell[newName] = addr
	at.cellToName[addr] = newName
	return addr, nil
}

// Resolve returns the cell bound to name
func (at *AliasTable) Resolve(name string) (CellAddress, bool) {
	addr, exists := at.nameToCell[name]
	return addr, exists
}

// NameAt returns the alias of addr
func (at *AliasTable) NameAt(addr CellAddress) (string, bool) {
	name, exists := at.cellToName[addr]
	return name, exists
}

// Count returns the number of aliases
func (at *AliasTable) Count() int {
	return len(at.nameToCell)
}

// Entries returns all aliases sorted by name
func (at *AliasTable) Entries() []AliasEntry {
	result := make([]AliasEntry, 0, len(at.nameToCell))
	for name, addr := range at.nameToCell {
		result = append(result, AliasEntry{Name: name, Address: addr})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

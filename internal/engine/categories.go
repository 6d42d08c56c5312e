package engine

import (
	"strings"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
)

func (m *MicroTask) category(id domain.TimeCategoryID) (int, error) {
	for i := range m.categories {
		if m.categories[i].ID == id {
			return i, nil
		}
	}
	return -1, fail(ErrCategoryNotFound, "Time category with ID %d does not exist.", id)
}

func (m *MicroTask) code(catIdx int, id domain.TimeCodeID) (int, error) {
	for i, c := range m.categories[catIdx].Codes {
		if c.ID == id {
			return i, nil
		}
	}
	return -1, fail(ErrCodeNotFound, "Time code with ID %d does not exist.", id)
}

func (m *MicroTask) validateTimeEntry(entries []domain.TimeEntry) error {
	seen := make(map[domain.TimeCategoryID]bool, len(entries))
	for _, e := range entries {
		idx, err := m.category(e.CategoryID)
		if err != nil {
			return err
		}
		if seen[e.CategoryID] {
			return fail(ErrDuplicateCategory, "Time category with ID %d is listed more than once.", e.CategoryID)
		}
		seen[e.CategoryID] = true
		if e.CodeID == domain.UnknownTimeCode {
			continue
		}
		if _, err := m.code(idx, e.CodeID); err != nil {
			return err
		}
	}
	return nil
}

func (m *MicroTask) checkCategoryName(name string, except domain.TimeCategoryID) error {
	if strings.TrimSpace(name) == "" {
		return fail(ErrInvalidName, "Time category name must not be empty.")
	}
	if len(name) > domain.MaxTextLength {
		return fail(ErrInvalidName, "Time category name is longer than %d bytes.", domain.MaxTextLength)
	}
	for _, c := range m.categories {
		if c.ID != except && strings.EqualFold(c.Name, name) {
			return fail(ErrDuplicateCategory, "Time category with name '%s' already exists.", name)
		}
	}
	return nil
}

func checkCategoryLabel(label string) error {
	if len(label) > domain.MaxTextLength {
		return fail(ErrInvalidName, "Time category label is longer than %d bytes.", domain.MaxTextLength)
	}
	return nil
}

func checkCodeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fail(ErrInvalidName, "Time code name must not be empty.")
	}
	if len(name) > domain.MaxTextLength {
		return fail(ErrInvalidName, "Time code name is longer than %d bytes.", domain.MaxTextLength)
	}
	return nil
}

func (m *MicroTask) AddTimeCategory(name, label string) (domain.TimeCategoryID, error) {
	if err := m.checkCategoryName(name, 0); err != nil {
		return 0, err
	}
	if err := checkCategoryLabel(label); err != nil {
		return 0, err
	}
	id := m.nextCategoryID
	m.nextCategoryID = id.Next()
	m.categories = append(m.categories, domain.TimeCategory{ID: id, Name: name, Label: label})
	return id, nil
}

func (m *MicroTask) UpdateTimeCategory(id domain.TimeCategoryID, name, label string, archived bool) error {
	idx, err := m.category(id)
	if err != nil {
		return err
	}
	if err := m.checkCategoryName(name, id); err != nil {
		return err
	}
	if err := checkCategoryLabel(label); err != nil {
		return err
	}
	c := &m.categories[idx]
	c.Name = name
	c.Label = label
	c.Archived = archived
	return nil
}

// RemoveTimeCategory deletes a category no task or session refers to.
// Referenced categories can only be archived.
func (m *MicroTask) RemoveTimeCategory(id domain.TimeCategoryID) error {
	idx, err := m.category(id)
	if err != nil {
		return err
	}
	if m.usage(func(e domain.TimeEntry) bool { return e.CategoryID == id }).used {
		return fail(ErrInUse, "Time category with ID %d is in use.", id)
	}
	m.categories = append(m.categories[:idx], m.categories[idx+1:]...)
	return nil
}

func (m *MicroTask) AddTimeCode(category domain.TimeCategoryID, name string) (domain.TimeCodeID, error) {
	idx, err := m.category(category)
	if err != nil {
		return 0, err
	}
	if err := checkCodeName(name); err != nil {
		return 0, err
	}
	id := m.nextCodeID
	m.nextCodeID = id.Next()
	m.categories[idx].Codes = append(m.categories[idx].Codes, domain.TimeCode{ID: id, Name: name})
	return id, nil
}

func (m *MicroTask) UpdateTimeCode(category domain.TimeCategoryID, id domain.TimeCodeID, name string, archived bool) error {
	catIdx, err := m.category(category)
	if err != nil {
		return err
	}
	codeIdx, err := m.code(catIdx, id)
	if err != nil {
		return err
	}
	if err := checkCodeName(name); err != nil {
		return err
	}
	c := &m.categories[catIdx].Codes[codeIdx]
	c.Name = name
	c.Archived = archived
	return nil
}

func (m *MicroTask) RemoveTimeCode(category domain.TimeCategoryID, id domain.TimeCodeID) error {
	catIdx, err := m.category(category)
	if err != nil {
		return err
	}
	codeIdx, err := m.code(catIdx, id)
	if err != nil {
		return err
	}
	entry := domain.TimeEntry{CategoryID: category, CodeID: id}
	if m.usage(func(e domain.TimeEntry) bool { return e == entry }).used {
		return fail(ErrInUse, "Time code with ID %d is in use.", id)
	}
	codes := m.categories[catIdx].Codes
	m.categories[catIdx].Codes = append(codes[:codeIdx], codes[codeIdx+1:]...)
	if len(m.categories[catIdx].Codes) == 0 {
		m.categories[catIdx].Codes = nil
	}
	return nil
}

type entryUsage struct {
	used bool
	// tasks that declare a matching entry themselves
	tasks int32
}

func (m *MicroTask) usage(match func(domain.TimeEntry) bool) entryUsage {
	var u entryUsage
	for _, t := range m.tasks {
		declared := false
		for _, e := range t.TimeEntry {
			if match(e) {
				declared = true
			}
		}
		if declared {
			u.used = true
			u.tasks++
			continue
		}
		for _, tt := range t.Times {
			for _, e := range tt.TimeEntry {
				if match(e) {
					u.used = true
				}
			}
		}
	}
	return u
}

// TimeCategories returns copies of every category with usage filled in.
func (m *MicroTask) TimeCategories() []domain.TimeCategory {
	var out []domain.TimeCategory
	for _, c := range m.categories {
		c = c.Clone()
		id := c.ID
		c.InUse = m.usage(func(e domain.TimeEntry) bool { return e.CategoryID == id }).used
		for i := range c.Codes {
			entry := domain.TimeEntry{CategoryID: id, CodeID: c.Codes[i].ID}
			u := m.usage(func(e domain.TimeEntry) bool { return e == entry })
			c.Codes[i].InUse = u.used
			c.Codes[i].TaskCount = u.tasks
		}
		out = append(out, c)
	}
	return out
}

func (m *MicroTask) TimeCategory(id domain.TimeCategoryID) (domain.TimeCategory, bool) {
	idx, err := m.category(id)
	if err != nil {
		return domain.TimeCategory{}, false
	}
	return m.categories[idx].Clone(), true
}

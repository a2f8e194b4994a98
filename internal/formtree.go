package internal

import (
	"github.com/opensurvey/fieldform"
)

// BuildFormTree folds the ordered survey rows into a hierarchical form tree
// under a synthetic root node. Containers follow a strict stack discipline:
// every begin_group/begin_repeat must be closed by a matching end row at the
// same depth.
func BuildFormTree(rows []SurveyRow) (*fieldform.FormNode, error) {
	root := &fieldform.FormNode{Question: fieldform.Question{Type: fieldform.TypeRoot}}
	stack := []*fieldform.FormNode{root}
	// Names must be unique per enclosing container, not globally.
	names := []map[string]int{make(map[string]int)}

	top := func() *fieldform.FormNode { return stack[len(stack)-1] }

	for _, row := range rows {
		q := row.Question
		switch row.Type {
		case fieldform.TypeBeginGroup, fieldform.TypeBeginRepeat:
			if err := claimName(names[len(names)-1], q.Name, row.Row); err != nil {
				return nil, err
			}
			node := &fieldform.FormNode{Question: q}
			top().Children = append(top().Children, node)
			stack = append(stack, node)
			names = append(names, make(map[string]int))

		case fieldform.TypeEndGroup, fieldform.TypeEndRepeat:
			if len(stack) == 1 {
				return nil, fieldform.NewError(fieldform.KindNesting,
					"%s without an open container", row.RawType).
					WithSheet(fieldform.SheetSurvey).WithRow(row.Row)
			}
			open := top().Question.Type
			want := fieldform.TypeBeginGroup
			if row.Type == fieldform.TypeEndRepeat {
				want = fieldform.TypeBeginRepeat
			}
			if open != want {
				return nil, fieldform.NewError(fieldform.KindNesting,
					"%s closes a %s opened at row %d", row.RawType, open, top().Question.Row).
					WithSheet(fieldform.SheetSurvey).WithRow(row.Row).
					WithField(top().Question.Name)
			}
			stack = stack[:len(stack)-1]
			names = names[:len(names)-1]

		default:
			if err := claimName(names[len(names)-1], q.Name, row.Row); err != nil {
				return nil, err
			}
			top().Children = append(top().Children, &fieldform.FormNode{Question: q})
		}
	}

	if len(stack) != 1 {
		unclosed := top().Question
		return nil, fieldform.NewError(fieldform.KindUnclosedContainer,
			"%s %q opened at row %d is never closed", unclosed.Type, unclosed.Name, unclosed.Row).
			WithSheet(fieldform.SheetSurvey).WithRow(unclosed.Row).WithField(unclosed.Name)
	}
	return root, nil
}

func claimName(scope map[string]int, name string, row int) error {
	if name == "" {
		return nil
	}
	if prev, dup := scope[name]; dup {
		return fieldform.NewError(fieldform.KindSchema,
			"duplicate name %q in the same container (first declared at row %d)", name, prev).
			WithSheet(fieldform.SheetSurvey).WithRow(row).WithField(name)
	}
	scope[name] = row
	return nil
}

package rules

import (
	"fmt"

	"gitlab.com/reiloader/codepatch/armkit"
	"gitlab.com/reiloader/codepatch/patch"
	"gitlab.com/reiloader/codepatch/search"
)

// Result describes what applying a rule changed.
type Result struct {
	Rule string

	// Applied is the number of occurrences or word sequences
	// that were patched.
	Applied int

	// At lists the index of each write.
	At []int
}

// Apply applies the rule to code. Only the first textSize bytes are
// searched when the rule's region is TextRegion.
//
// The patcher is used for replace actions and receives a Write for
// every change made by the other actions through its OptHook.
func (o Rule) Apply(code []byte, textSize int, patcher *patch.Patcher) (Result, error) {
	if patcher == nil {
		patcher = &patch.Patcher{}
	}

	region := code
	if o.Region == TextRegion && textSize >= 0 && textSize < len(code) {
		region = code[:textSize]
	}

	result := Result{
		Rule: o.Name,
	}

	var err error

	switch {
	case o.Replace != nil:
		err = o.applyReplace(region, patcher, &result)
	case o.WordScan != nil:
		err = o.applyWordScan(region, patcher, &result)
	case o.StubFunction != nil:
		err = o.applyStubFunction(region, patcher, &result)
	default:
		err = fmt.Errorf("%w - rule has no action", ErrInvalidRule)
	}

	return result, err
}

func (o Rule) applyReplace(region []byte, patcher *patch.Patcher, result *Result) error {
	action := o.Replace

	p := *patcher
	p.OptHook = func(w patch.Write) {
		result.At = append(result.At, w.At)

		if patcher.OptHook != nil {
			patcher.OptHook(w)
		}
	}

	n, err := p.Apply(region, action.Pattern, action.Offset, action.Replacement, action.Count)
	result.Applied = n
	if err != nil {
		return fmt.Errorf("failed to apply replacement - %w", err)
	}

	if n == 0 && o.Critical {
		return fmt.Errorf("%w - pattern 0x%x", ErrPatternAbsent, []byte(action.Pattern))
	}

	return nil
}

func (o Rule) applyWordScan(region []byte, patcher *patch.Patcher, result *Result) error {
	action := o.WordScan

	scan := armkit.WordScan{
		Start: action.Start,
		Step:  action.Step,
	}

	for _, cond := range action.Match {
		scan.Conditions = append(scan.Conditions, armkit.WordCondition{
			Index: cond.Index,
			Mask:  uint32(cond.Mask),
			Value: uint32(cond.Value),
		})
	}

	at, err := scan.Find(region)
	if err != nil {
		return err
	}

	if at == armkit.NotFound {
		if o.Critical {
			return fmt.Errorf("%w - no instruction sequence matched", ErrPatternAbsent)
		}

		return nil
	}

	return writeWords(region, at, at, action.Write, patcher, result)
}

func (o Rule) applyStubFunction(region []byte, patcher *patch.Patcher, result *Result) error {
	action := o.StubFunction

	match := search.IndexSimple(region, action.Locate)
	if match == search.NotFound {
		if o.Critical {
			return fmt.Errorf("%w - pattern 0x%x", ErrPatternAbsent, []byte(action.Locate))
		}

		return nil
	}

	start := armkit.FindFunctionStart(region, match-1)
	if start == armkit.NotFound {
		if o.Critical {
			return fmt.Errorf("%w - no function start before pattern at 0x%x",
				ErrPatternAbsent, match)
		}

		return nil
	}

	return writeWords(region, match, start, action.Write, patcher, result)
}

func writeWords(region []byte, match int, at int, words []Word, patcher *patch.Patcher, result *Result) error {
	raw := make([]uint32, len(words))
	for i, w := range words {
		raw[i] = uint32(w)
	}

	end := at + len(raw)*armkit.WordSize
	if end > len(region) {
		return &patch.BoundsError{
			Match:  match,
			At:     at,
			Len:    end - at,
			BufLen: len(region),
		}
	}

	old := make([]byte, end-at)
	copy(old, region[at:end])

	err := armkit.PutWords(region, at, raw...)
	if err != nil {
		return err
	}

	result.Applied = 1
	result.At = append(result.At, at)

	if patcher.OptLogger != nil {
		patcher.OptLogger.Printf("wrote %d words at 0x%x", len(raw), at)
	}

	if patcher.OptHook != nil {
		patcher.OptHook(patch.Write{
			Match: match,
			At:    at,
			Old:   old,
			New:   region[at:end],
		})
	}

	return nil
}

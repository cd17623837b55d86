package rules

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"gitlab.com/reiloader/codepatch/armkit"
	"gitlab.com/reiloader/codepatch/patch"
)

const (
	usaHomeMenu = 0x0004003000008f02
	korHomeMenu = 0x000400300000a902
	chnHomeMenu = 0x000400300000a102
	usaMSET     = 0x0004001000021000
)

// homeMenuImage returns a fake Home Menu code image containing every
// sequence that the default rules look for, and its text section size.
func homeMenuImage(t *testing.T) ([]byte, int) {
	t.Helper()

	const textSize = 0x200

	code := make([]byte, textSize+0x40)

	mustPutWords(t, code, 0x40, 0x10000c0a) // "0a 0c 00 10"

	mustPutWords(t, code, 0x100,
		0xe1110002, // tst r1, r2
		0x0a000010, // beq
		0xe1a0000d) // mov r0, sp

	mustPutWords(t, code, 0x180,
		0xe92d4070, // push {r4, r5, r6, lr}
		0xe1a04000,
		0xe5d11010, // ldrb r1, [r1, #0x10]
		0xe58d0008) // str r0, [sp, #8]

	copy(code[textSize+0x10:], "V\x00e\x00r\x00.\x00")

	return code, textSize
}

func mustPutWords(t *testing.T, code []byte, i int, words ...uint32) {
	t.Helper()

	err := armkit.PutWords(code, i, words...)
	if err != nil {
		t.Fatal(err)
	}
}

func mustRule(t *testing.T, table Table, name string) Rule {
	t.Helper()

	for _, rule := range table.Rules {
		if rule.Name == name {
			return rule
		}
	}

	t.Fatalf("rule %q not found", name)

	return Rule{}
}

func TestDefault(t *testing.T) {
	table, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	if len(table.Rules) != 4 {
		t.Fatalf("expected 4 rules - got %d", len(table.Rules))
	}

	version := mustRule(t, table, "version-string")

	if !version.Cosmetic || version.Region != ImageRegion {
		t.Fatalf("expected a cosmetic image rule - got %+v", version)
	}

	expPattern := []byte{0x56, 0x00, 0x65, 0x00, 0x72, 0x00, 0x2e, 0x00}
	if !bytes.Equal(version.Replace.Pattern, expPattern) {
		t.Fatalf("expected pattern 0x%x - got 0x%x", expPattern, []byte(version.Replace.Pattern))
	}

	expReplacement := []byte{0x24, 0xe0, 0x52, 0x00, 0x65, 0x00, 0x69, 0x00}
	if !bytes.Equal(version.Replace.Replacement, expReplacement) {
		t.Fatalf("expected replacement 0x%x - got 0x%x",
			expReplacement, []byte(version.Replace.Replacement))
	}

	stub := mustRule(t, table, "ds-whitelist")

	if len(stub.Targets) != 6 || !stub.Critical {
		t.Fatalf("expected a critical rule with 6 targets - got %+v", stub)
	}
}

func TestTable_Select(t *testing.T) {
	table, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	type testCase struct {
		name     string
		program  uint64
		version  uint16
		expApply []string
		expGated []string
	}

	testCases := []testCase{
		{
			name:     "OldUSAHomeMenu",
			program:  usaHomeMenu,
			version:  4,
			expApply: []string{"manual-region-check", "ds-whitelist"},
			expGated: []string{"smdh-region-free"},
		},
		{
			name:     "NewUSAHomeMenu",
			program:  usaHomeMenu,
			version:  5,
			expApply: []string{"smdh-region-free", "manual-region-check", "ds-whitelist"},
		},
		{
			name:     "FirstKORHomeMenu",
			program:  korHomeMenu,
			version:  0,
			expApply: []string{"manual-region-check", "ds-whitelist"},
			expGated: []string{"smdh-region-free"},
		},
		{
			name:     "FirstCHNHomeMenu",
			program:  chnHomeMenu,
			version:  0,
			expApply: []string{"smdh-region-free", "manual-region-check", "ds-whitelist"},
		},
		{
			name:     "MSET",
			program:  usaMSET,
			expApply: []string{"version-string"},
		},
		{
			name:    "Unknown",
			program: 0x0004000000055d00,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			selection := table.Select(tc.program, tc.version)

			if got := ruleNames(selection.Apply); got != strings.Join(tc.expApply, ",") {
				t.Fatalf("expected rules to apply %v - got %s", tc.expApply, got)
			}

			if got := ruleNames(selection.Gated); got != strings.Join(tc.expGated, ",") {
				t.Fatalf("expected gated rules %v - got %s", tc.expGated, got)
			}
		})
	}
}

func ruleNames(rules []Rule) string {
	var names []string
	for _, rule := range rules {
		names = append(names, rule.Name)
	}

	return strings.Join(names, ",")
}

func TestRule_Apply(t *testing.T) {
	table, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	code, textSize := homeMenuImage(t)

	type testCase struct {
		rule    string
		expAt   int
		expData []byte
	}

	testCases := []testCase{
		{
			rule:    "smdh-region-free",
			expAt:   0x40 - 31,
			expData: armkit.WordsToBytes(armkit.MovR0Imm1, armkit.BxLR),
		},
		{
			rule:    "manual-region-check",
			expAt:   0x104,
			expData: armkit.WordsToBytes(armkit.Nop),
		},
		{
			rule:    "ds-whitelist",
			expAt:   0x180,
			expData: armkit.WordsToBytes(armkit.MovR0Imm0, armkit.BxLR),
		},
		{
			rule:    "version-string",
			expAt:   textSize + 0x10,
			expData: []byte("\x24\xe0R\x00e\x00i\x00"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.rule, func(t *testing.T) {
			var writes []patch.Write

			patcher := &patch.Patcher{
				OptHook: func(w patch.Write) {
					writes = append(writes, w)
				},
			}

			result, err := mustRule(t, table, tc.rule).Apply(code, textSize, patcher)
			if err != nil {
				t.Fatal(err)
			}

			if result.Applied != 1 || len(result.At) != 1 || result.At[0] != tc.expAt {
				t.Fatalf("expected one write at 0x%x - got %+v", tc.expAt, result)
			}

			if len(writes) != 1 || writes[0].At != tc.expAt {
				t.Fatalf("expected the hook to see one write at 0x%x - got %+v", tc.expAt, writes)
			}

			got := code[tc.expAt : tc.expAt+len(tc.expData)]
			if !bytes.Equal(got, tc.expData) {
				t.Fatalf("expected 0x%x at 0x%x - got 0x%x", tc.expData, tc.expAt, got)
			}
		})
	}
}

func TestRule_Apply_TextRegion(t *testing.T) {
	table, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	code := make([]byte, 0x100)

	// The stub pattern only exists past the end of the text section.
	mustPutWords(t, code, 0x80,
		0xe92d4070,
		0xe5d11010,
		0xe58d0008)

	_, err = mustRule(t, table, "ds-whitelist").Apply(code, 0x80, nil)
	if !errors.Is(err, ErrPatternAbsent) {
		t.Fatalf("expected ErrPatternAbsent - got %v", err)
	}

	_, err = mustRule(t, table, "ds-whitelist").Apply(code, len(code), nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestRule_Apply_Absent(t *testing.T) {
	table, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	type testCase struct {
		rule      string
		expAbsent bool
	}

	testCases := []testCase{
		{rule: "smdh-region-free", expAbsent: false},
		{rule: "manual-region-check", expAbsent: true},
		{rule: "ds-whitelist", expAbsent: true},
		{rule: "version-string", expAbsent: false},
	}

	for _, tc := range testCases {
		t.Run(tc.rule, func(t *testing.T) {
			code := make([]byte, 0x100)

			result, err := mustRule(t, table, tc.rule).Apply(code, len(code), nil)
			if errors.Is(err, ErrPatternAbsent) != tc.expAbsent {
				t.Fatalf("expected absent %t - got error %v", tc.expAbsent, err)
			}

			if !tc.expAbsent && err != nil {
				t.Fatal(err)
			}

			if result.Applied != 0 {
				t.Fatalf("expected nothing to be applied - got %d", result.Applied)
			}

			if !bytes.Equal(code, make([]byte, 0x100)) {
				t.Fatal("code was modified")
			}
		})
	}
}

func TestRule_Apply_NoFunctionStart(t *testing.T) {
	table, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	code := make([]byte, 0x40)
	mustPutWords(t, code, 0x10, 0xe5d11010, 0xe58d0008)

	_, err = mustRule(t, table, "ds-whitelist").Apply(code, len(code), nil)
	if !errors.Is(err, ErrPatternAbsent) {
		t.Fatalf("expected ErrPatternAbsent - got %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, doc := range []string{
		"rules:\n  - name: a\n    region: text\n    targets: [{program: 1}]\n",
		"rules:\n  - name: a\n    region: text\n    targets: [{program: 1}]\n    replace: {pattern: ff, replacement: 00, count: 1}\n    stub_function: {locate: ff, write: [0]}\n",
		"rules:\n  - name: a\n    region: rom\n    targets: [{program: 1}]\n    replace: {pattern: ff, replacement: 00, count: 1}\n",
		"rules:\n  - name: a\n    region: text\n    replace: {pattern: ff, replacement: 00, count: 1}\n",
		"rules:\n  - name: a\n    region: text\n    targets: [{program: 1}]\n    replace: {pattern: ff, replacement: 00, count: 0}\n",
		"rules:\n  - name: a\n    region: text\n    targets: [{program: 1}]\n    replace: {pattern: ff, replacement: 00, count: 1}\n  - name: a\n    region: text\n    targets: [{program: 2}]\n    replace: {pattern: ff, replacement: 00, count: 1}\n",
	} {
		_, err := Parse(strings.NewReader(doc))
		if !errors.Is(err, ErrInvalidRule) {
			t.Fatalf("expected ErrInvalidRule for:\n%s\ngot: %v", doc, err)
		}
	}

	_, err := Parse(strings.NewReader("rules:\n  - name: a\n    colour: blue\n"))
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}

	_, err = Parse(strings.NewReader("rules:\n  - name: a\n    region: text\n    targets: [{program: 1}]\n    word_scan: {match: [{index: 0, mask: 0x1ffffffff, value: 0}], write: [0]}\n"))
	if err == nil {
		t.Fatal("expected an error for a mask wider than 32 bits")
	}
}

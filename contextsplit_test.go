package ziya

import (
	"context"
	"strings"
	"testing"
)

func buildPrompt(files map[string]string, order []string) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant.\n\n")
	b.WriteString(CodebasePreamble)
	b.WriteString("\n")
	for _, path := range order {
		b.WriteString("File: " + path + "\n")
		b.WriteString(files[path])
		b.WriteString("\n")
	}
	return b.String()
}

func bigBody(marker string) string {
	return strings.Repeat("// "+marker+" line of sufficient length for the test\n", 200)
}

func TestSplitStableAndDynamic(t *testing.T) {
	oracle := newMockOracle()
	oracle.changed["b.py"] = true
	splitter := NewContextSplitter(oracle, nil, nil)

	files := map[string]string{"a.py": bigBody("aaa"), "b.py": bigBody("bbb")}
	prompt := buildPrompt(files, []string{"a.py", "b.py"})

	split := splitter.Split(context.Background(), "c1", prompt, []string{"a.py", "b.py"})
	if split.Empty() {
		t.Fatal("expected a non-empty split")
	}
	if len(split.StableFiles) != 1 || split.StableFiles[0] != "a.py" {
		t.Errorf("stable files = %v, want [a.py]", split.StableFiles)
	}
	if len(split.DynamicFiles) != 1 || split.DynamicFiles[0] != "b.py" {
		t.Errorf("dynamic files = %v, want [b.py]", split.DynamicFiles)
	}
	if !strings.Contains(split.StableContent, "aaa") || strings.Contains(split.StableContent, "bbb") {
		t.Error("stable content must hold exactly the unchanged file")
	}
	if !strings.Contains(split.DynamicContent, "bbb") {
		t.Error("dynamic content must hold the changed file")
	}
}

func TestSplitDeterministicAcrossTurns(t *testing.T) {
	oracle := newMockOracle()
	splitter := NewContextSplitter(oracle, nil, nil)
	files := map[string]string{"a.py": bigBody("aaa"), "b.py": bigBody("bbb")}
	prompt := buildPrompt(files, []string{"a.py", "b.py"})

	first := splitter.Split(context.Background(), "c1", prompt, []string{"a.py", "b.py"})
	second := splitter.Split(context.Background(), "c1", prompt, []string{"a.py", "b.py"})
	if first.StableContent != second.StableContent {
		t.Error("stable content must be byte-identical across turns with unchanged files")
	}
}

func TestSplitBelowThreshold(t *testing.T) {
	oracle := newMockOracle()
	splitter := NewContextSplitter(oracle, nil, nil)
	prompt := buildPrompt(map[string]string{"a.py": "tiny\n"}, []string{"a.py"})

	split := splitter.Split(context.Background(), "c1", prompt, []string{"a.py"})
	if !split.Empty() {
		t.Errorf("split = %+v, want empty below %d bytes", split, MinStableSize)
	}
}

func TestSplitNoCodebaseSection(t *testing.T) {
	oracle := newMockOracle()
	splitter := NewContextSplitter(oracle, nil, nil)

	split := splitter.Split(context.Background(), "c1", "just instructions", []string{"a.py"})
	if split.StableContent != "" || split.DynamicContent != "just instructions" {
		t.Errorf("split = %+v, want everything dynamic", split)
	}
}

func TestSplitSkipsTemplateExamples(t *testing.T) {
	oracle := newMockOracle()
	splitter := NewContextSplitter(oracle, nil, nil)

	prompt := "intro\n" + CodebasePreamble + "\n" +
		"<!-- TEMPLATE EXAMPLE START -->\n" +
		"File: fake.py\nnot a real file\n" +
		"<!-- TEMPLATE EXAMPLE END -->\n" +
		"File: real.py\n" + bigBody("real")

	split := splitter.Split(context.Background(), "c1", prompt, []string{"real.py"})
	if split.Empty() {
		t.Fatal("expected a split")
	}
	for _, f := range append(split.StableFiles, split.DynamicFiles...) {
		if f == "fake.py" {
			t.Error("template example file leaked into the split")
		}
	}
}

func TestSplitPreservesFileOrder(t *testing.T) {
	oracle := newMockOracle()
	splitter := NewContextSplitter(oracle, nil, nil)
	files := map[string]string{
		"one.py": bigBody("one"), "two.py": bigBody("two"), "three.py": bigBody("three"),
	}
	prompt := buildPrompt(files, []string{"one.py", "two.py", "three.py"})

	split := splitter.Split(context.Background(), "c1", prompt, []string{"one.py", "two.py", "three.py"})
	want := []string{"one.py", "two.py", "three.py"}
	for i, f := range split.StableFiles {
		if f != want[i] {
			t.Fatalf("stable order = %v, want %v", split.StableFiles, want)
		}
	}
	oneIdx := strings.Index(split.StableContent, "one")
	twoIdx := strings.Index(split.StableContent, "two")
	if oneIdx < 0 || twoIdx < 0 || oneIdx > twoIdx {
		t.Error("stable content out of original order")
	}
}

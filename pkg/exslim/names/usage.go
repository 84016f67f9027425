package names

import (
	"github.com/samber/lo"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
	"github.com/ukaji3/exslim-go/pkg/exslim/parser"
)

// Keep reasons recorded per name.
const (
	ReasonReserved  = "reserved"
	ReasonMalformed = "malformed"
	ReasonCycle     = "cycle"
	ReasonUsed      = "used"
)

// Analysis is the usage graph of the defined names of one workbook.
type Analysis struct {
	Names []DefinedName
	// Reasons holds why each name is kept; empty means unused.
	Reasons []string

	wb     *parser.Workbook
	parsed *definedNames
	byName map[string][]int
}

// Analyze reads the defined names of the workbook and every place that can
// refer to them, and decides which names are still needed.
func Analyze(a *archive.Archive, opts Options) (*Analysis, error) {
	wb, err := parser.ReadWorkbook(a)
	if err != nil {
		return nil, err
	}
	part, _ := a.Part(wb.Path)
	parsed, err := parseDefinedNames(part.Data)
	if err != nil {
		return nil, archive.NewError(archive.KindXMLParse, wb.Path, err)
	}

	an := &Analysis{
		Names:   parsed.entries,
		Reasons: make([]string, len(parsed.entries)),
		wb:      wb,
		parsed:  parsed,
		byName:  make(map[string][]int),
	}
	if len(an.Names) == 0 {
		return an, nil
	}
	for i, n := range an.Names {
		key := parser.FoldName(n.Name)
		an.byName[key] = append(an.byName[key], i)
	}

	sources, err := parser.CollectFormulaSources(a, wb)
	if err != nil {
		return nil, err
	}

	var roots []int
	mark := func(i int, reason string) {
		if an.Reasons[i] == "" {
			an.Reasons[i] = reason
			roots = append(roots, i)
		}
	}

	for _, src := range sources {
		for _, f := range src.Formulas {
			scan := parser.ScanFormula(f)
			for _, ref := range scan.Refs {
				for _, j := range an.resolve(ref, src.Origin) {
					if opts.Aggressive && an.hiddenLocal(j) && an.Names[j].LocalSheetID == src.Origin {
						continue
					}
					mark(j, ReasonUsed)
				}
			}
		}
	}

	edges := make([][]int, len(an.Names))
	for i, n := range an.Names {
		if n.Reserved() {
			mark(i, ReasonReserved)
		}
		scan := parser.ScanFormula(n.Formula)
		if scan.Malformed {
			mark(i, ReasonMalformed)
		}
		for _, ref := range scan.Refs {
			edges[i] = append(edges[i], an.resolve(ref, n.LocalSheetID)...)
		}
		edges[i] = lo.Uniq(edges[i])
	}
	for _, i := range cyclic(edges) {
		mark(i, ReasonCycle)
	}

	// Anything reachable from a kept name is kept too.
	for len(roots) > 0 {
		i := roots[len(roots)-1]
		roots = roots[:len(roots)-1]
		for _, j := range edges[i] {
			mark(j, ReasonUsed)
		}
	}

	return an, nil
}

// Unused returns the indexes of names nothing refers to.
func (an *Analysis) Unused() []int {
	var out []int
	for i, r := range an.Reasons {
		if r == "" {
			out = append(out, i)
		}
	}
	return out
}

// resolve maps a formula reference made from origin to the names it can mean.
func (an *Analysis) resolve(ref parser.Reference, origin int) []int {
	if ref.External() {
		return nil
	}
	candidates := an.byName[parser.FoldName(ref.Name)]
	if len(candidates) == 0 {
		return nil
	}

	scope := origin
	if ref.Qualifier != "" {
		idx, ok := an.wb.SheetIndex(ref.Qualifier)
		if !ok {
			return candidates
		}
		scope = idx
	}

	if scope != parser.NoSheet {
		if i, ok := lo.Find(candidates, func(i int) bool { return an.Names[i].LocalSheetID == scope }); ok {
			return []int{i}
		}
	}
	if i, ok := lo.Find(candidates, func(i int) bool { return an.Names[i].Global() }); ok {
		return []int{i}
	}
	if scope == parser.NoSheet {
		return candidates
	}
	return nil
}

// hiddenLocal reports whether name i is scoped to a hidden sheet.
func (an *Analysis) hiddenLocal(i int) bool {
	s, ok := an.wb.SheetAt(an.Names[i].LocalSheetID)
	return ok && s.Hidden()
}

// cyclic returns the nodes that sit on a cycle, self-loops included, using
// Tarjan's strongly connected components.
func cyclic(edges [][]int) []int {
	n := len(edges)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack, out []int
	next := 0

	var visit func(v int)
	visit = func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range edges[v] {
			if index[w] < 0 {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] != index[v] {
			return
		}
		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		if len(comp) > 1 || lo.Contains(edges[v], v) {
			out = append(out, comp...)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] < 0 {
			visit(v)
		}
	}
	return out
}

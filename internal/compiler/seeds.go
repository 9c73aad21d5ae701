package compiler

// Seed lists are comptime-baked newline-separated name lists (spec.md
// §4.10): files touched on any compile before user macros run, and the
// extra files initex needs only when generating xelatex.fmt.
const initSeedList = `tex/generic/unicode-data/uni-translate.def
tex/generic/unicode-data/uni-normalize.def
tex/latex/base/article.cls
tex/latex/base/size10.clo
tex/latex/l3backend/l3backend-xetex.def
tex/latex/l3kernel/expl3.sty
tex/latex/l3kernel/expl3-code.tex
fonts/cmr10.tfm
fonts/cmr7.tfm
fonts/cmr5.tfm
`

const formatGenSeedList = `tex/generic/tex-ini-files/plain.tex
tex/xetex/xetexconfig/XeTeX.fmt
tex/latex/base/latex.ltx
tex/latex/base/fixltx2e.sty
tex/latex/l3backend/l3backend-xetex.def
`

func splitSeedList(list string) []string {
	var names []string
	start := 0
	for i := 0; i < len(list); i++ {
		if list[i] == '\n' {
			if i > start {
				names = append(names, list[start:i])
			}
			start = i + 1
		}
	}
	if start < len(list) {
		names = append(names, list[start:])
	}
	return names
}

// InitSeed returns the init-file seed list.
func InitSeed() []string { return splitSeedList(initSeedList) }

// FormatGenSeed returns the format-generation seed list.
func FormatGenSeed() []string { return splitSeedList(formatGenSeedList) }

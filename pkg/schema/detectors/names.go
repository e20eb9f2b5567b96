package detectors

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// recognizerBudget caps how many long values one detector hands to the
// entity recognizer.
const recognizerBudget = 64

// firstNames is a set of common given names, lower case.
var firstNames = func() map[string]struct{} {
	names := strings.Fields(`
		aaron abigail ada adam adrian aiden alan albert alex alexander alexandra alice alicia
		allison amanda amber amelia amy andrea andrew angela anna anne anthony antonio
		april arthur ashley austin ava barbara benjamin betty beverly billy bobby brandon
		brenda brian brittany bruce bryan carl carlos carol caroline catherine charles
		charlotte cheryl chloe christian christina christine christopher cynthia daniel
		danielle david deborah debra denise dennis diana diane donald donna doris dorothy
		douglas dylan edward elijah elizabeth ella emily emma eric ethan eugene evelyn
		frances frank gabriel gary george gerald gloria grace gregory hannah harold harry
		heather helen henry isabella jack jacob jacqueline james jane janet janice jason jean
		jeffrey jennifer jeremy jerry jesse jessica joan joe john johnny jonathan jordan
		jose joseph joshua joyce juan judith judy julia julie justin karen katherine
		kate kathleen kathryn kayla keith kelly kenneth kevin kimberly kyle larry laura lauren
		lawrence liam linda lisa logan lori louis lucas madison margaret maria marie
		marilyn mark martha mary mason matthew megan melissa mia michael michelle mildred
		nancy natalie nathan nicholas nicole noah olivia oliver pamela patricia patrick
		paul peter philip rachel ralph randy raymond rebecca richard robert roger ronald
		rose roy russell ruth ryan samantha samuel sandra sara sarah scott sean sharon
		shirley sophia stephanie stephen steven susan teresa terry theresa thomas tiffany tom
		timothy tyler victoria vincent virginia walter wayne william willie zachary
	`)
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}()

func isFirstName(word string) bool {
	_, ok := firstNames[strings.ToLower(word)]
	return ok
}

// isCapitalizedWord accepts words like "Smith", "O'Neil" or "Smith-Jones".
func isCapitalizedWord(w string) bool {
	runes := []rune(w)
	if len(runes) < 2 || !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLetter(r) && r != '\'' && r != '-' && r != '.' {
			return false
		}
	}
	return true
}

// isPersonName matches "First Last", "First M. Last" and "Last, First".
func isPersonName(s string) bool {
	if i := strings.Index(s, ","); i > 0 {
		last := strings.TrimSpace(s[:i])
		rest := strings.Fields(s[i+1:])
		return len(rest) >= 1 && len(rest) <= 2 && isCapitalizedWord(last) &&
			isCapitalizedWord(rest[0]) && isFirstName(rest[0])
	}
	words := strings.Fields(s)
	if len(words) < 2 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		if !isCapitalizedWord(w) {
			return false
		}
	}
	return isFirstName(words[0])
}

func containsPersonName(s string) bool {
	words := strings.Fields(s)
	for i := 0; i+1 < len(words); i++ {
		first := strings.Trim(words[i], ",.;:!?\"()")
		last := strings.Trim(words[i+1], ",.;:!?\"()")
		if isCapitalizedWord(first) && isFirstName(first) && isCapitalizedWord(last) {
			return true
		}
	}
	return false
}

// recognizesPerson runs named entity recognition over free text and reports
// whether it found a person named by at least two words.
func recognizesPerson(s string) bool {
	doc, err := prose.NewDocument(s, prose.WithSegmentation(false))
	if err != nil {
		return false
	}
	for _, ent := range doc.Entities() {
		if ent.Label == "PERSON" && len(strings.Fields(ent.Text)) >= 2 {
			return true
		}
	}
	return false
}

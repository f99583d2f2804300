package toolindex

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// fieldWeight assigns per-field importance to the BM25-style keyword scan,
// as named (without fixing exact constants) by the Hybrid Tool Index's
// keyword-scan algorithm. tool_name and routing_keywords dominate since an
// exact or near-exact token match there is the strongest routing signal;
// category contributes the least since it is the coarsest field.
var fieldWeight = map[string]float64{
	"tool_name":        3.0,
	"routing_keywords": 2.5,
	"intents":          2.5,
	"description":      2.0,
	"category":         1.0,
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-z0-9_*.]+`)

// tokenize lower-cases and splits on non-alphanumeric characters, keeping
// '*', '.', and '_' as part of tokens. Sentence punctuation is stripped by
// trimming trailing dots, so "changes." and "changes" index identically
// while "*.go" and "git.commit" survive as single tokens.
func tokenize(text string) []string {
	var tokens []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		tok = strings.TrimRight(tok, ".")
		if tok != "" && tok != "." {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// fieldPosting tracks, for one field, the per-document term frequency and
// the document's field length (for BM25 length normalization).
type fieldPosting struct {
	termFreq map[string]map[string]int // term -> docID -> frequency
	docLen   map[string]int            // docID -> field token count
	totalLen int
	docCount int
}

func newFieldPosting() *fieldPosting {
	return &fieldPosting{
		termFreq: make(map[string]map[string]int),
		docLen:   make(map[string]int),
	}
}

func (p *fieldPosting) index(docID, text string) {
	tokens := tokenize(text)
	if _, exists := p.docLen[docID]; !exists {
		p.docCount++
	}
	p.docLen[docID] = len(tokens)
	p.totalLen += len(tokens)
	for _, tok := range tokens {
		m, ok := p.termFreq[tok]
		if !ok {
			m = make(map[string]int)
			p.termFreq[tok] = m
		}
		m[docID]++
	}
}

func (p *fieldPosting) avgDocLen() float64 {
	if p.docCount == 0 {
		return 0
	}
	return float64(p.totalLen) / float64(p.docCount)
}

// bm25Score computes the BM25 score for one term against one document in
// this field.
func (p *fieldPosting) bm25Score(term, docID string) float64 {
	postings, ok := p.termFreq[term]
	if !ok {
		return 0
	}
	tf, ok := postings[docID]
	if !ok || tf == 0 {
		return 0
	}
	df := len(postings)
	idf := math.Log(1 + (float64(p.docCount)-float64(df)+0.5)/(float64(df)+0.5))
	avgLen := p.avgDocLen()
	docLen := float64(p.docLen[docID])
	norm := 1 - bm25B + bm25B*docLen/maxFloat(avgLen, 1)
	return idf * (float64(tf) * (bm25K1 + 1)) / (float64(tf) + bm25K1*norm)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// keywordIndex is a BM25-style inverted index over
// {tool_name, description, routing_keywords, intents, category}.
type keywordIndex struct {
	fields map[string]*fieldPosting
	docIDs map[string]bool
}

func newKeywordIndex() *keywordIndex {
	fields := make(map[string]*fieldPosting, len(fieldWeight))
	for name := range fieldWeight {
		fields[name] = newFieldPosting()
	}
	return &keywordIndex{fields: fields, docIDs: make(map[string]bool)}
}

func (k *keywordIndex) upsert(r *row) {
	k.docIDs[r.id] = true
	// Index the canonical name plus its dot-separated parts so a query for
	// the bare command ("commit") still hits "git.commit".
	k.fields["tool_name"].index(r.id, r.toolName+" "+strings.ReplaceAll(r.toolName, ".", " "))
	k.fields["description"].index(r.id, r.content)
	k.fields["routing_keywords"].index(r.id, strings.Join(r.routingKeywords, " "))
	k.fields["intents"].index(r.id, strings.Join(r.intents, " "))
	k.fields["category"].index(r.id, r.category)
}

// keywordHit is one scored candidate from a keyword search.
type keywordHit struct {
	docID string
	score float64
}

// search tokenizes the query and accumulates weighted BM25 scores over all
// fields for every candidate document, returning hits sorted descending.
func (k *keywordIndex) search(query string) []keywordHit {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	scores := make(map[string]float64)
	for fieldName, weight := range fieldWeight {
		posting := k.fields[fieldName]
		for _, tok := range tokens {
			postings, ok := posting.termFreq[tok]
			if !ok {
				continue
			}
			for docID := range postings {
				scores[docID] += weight * posting.bm25Score(tok, docID)
			}
		}
	}
	hits := make([]keywordHit, 0, len(scores))
	for docID, score := range scores {
		if score > 0 {
			hits = append(hits, keywordHit{docID: docID, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	return hits
}

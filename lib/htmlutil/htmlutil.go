package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// text of the node's immediate text children only, skipping anything
// nested inside child elements (links, annotations)
func GetOwnText(node *html.Node) string {
	if node == nil {
		return ""
	}
	var buffer bytes.Buffer
	child := node.FirstChild
	for child != nil {
		if child.Type == html.TextNode {
			buffer.WriteString(child.Data)
		}
		child = child.NextSibling
	}
	return buffer.String()
}

var whitespaceRun = regexp.MustCompile(`\s+`)
var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText flattens a text node's content to one line: whitespace runs
// (including line breaks inside wrapped markup) become a single space,
// then non-printables like nbsp are stripped and the spaces they leave
// behind are merged.
func CleanText(s string) string {
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.Trim(s, " \t\n")
}

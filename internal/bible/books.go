package bible

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownBook     = errors.New("unknown book")
	ErrInvalidChapter  = errors.New("invalid chapter")
	ErrPassageNotFound = errors.New("could not find passage text on the page")
)

type Book struct {
	Name     string `json:"name"`
	Chapters int    `json:"chapters"`
}

var books = []Book{
	{"Genesis", 50}, {"Exodus", 40}, {"Leviticus", 27}, {"Numbers", 36}, {"Deuteronomy", 34},
	{"Joshua", 24}, {"Judges", 21}, {"Ruth", 4}, {"1 Samuel", 31}, {"2 Samuel", 24},
	{"1 Kings", 22}, {"2 Kings", 25}, {"1 Chronicles", 29}, {"2 Chronicles", 36},
	{"Ezra", 10}, {"Nehemiah", 13}, {"Esther", 10}, {"Job", 42}, {"Psalms", 150},
	{"Proverbs", 31}, {"Ecclesiastes", 12}, {"Song of Solomon", 8}, {"Isaiah", 66},
	{"Jeremiah", 52}, {"Lamentations", 5}, {"Ezekiel", 48}, {"Daniel", 12},
	{"Hosea", 14}, {"Joel", 3}, {"Amos", 9}, {"Obadiah", 1}, {"Jonah", 4},
	{"Micah", 7}, {"Nahum", 3}, {"Habakkuk", 3}, {"Zephaniah", 3}, {"Haggai", 2},
	{"Zechariah", 14}, {"Malachi", 4},

	{"Matthew", 28}, {"Mark", 16}, {"Luke", 24}, {"John", 21}, {"Acts", 28},
	{"Romans", 16}, {"1 Corinthians", 16}, {"2 Corinthians", 13}, {"Galatians", 6},
	{"Ephesians", 6}, {"Philippians", 4}, {"Colossians", 4}, {"1 Thessalonians", 5},
	{"2 Thessalonians", 3}, {"1 Timothy", 6}, {"2 Timothy", 4}, {"Titus", 3},
	{"Philemon", 1}, {"Hebrews", 13}, {"James", 5}, {"1 Peter", 5}, {"2 Peter", 3},
	{"1 John", 5}, {"2 John", 1}, {"3 John", 1}, {"Jude", 1}, {"Revelation", 22},
}

var chapterCounts = func() map[string]int {
	m := make(map[string]int, len(books))
	for _, b := range books {
		m[b.Name] = b.Chapters
	}
	return m
}()

// Books returns the 66 canonical books in order.
func Books() []Book {
	out := make([]Book, len(books))
	copy(out, books)
	return out
}

func BookNames() []string {
	names := make([]string, len(books))
	for i, b := range books {
		names[i] = b.Name
	}
	return names
}

// ChapterCounts maps every book name to its number of chapters.
func ChapterCounts() map[string]int {
	m := make(map[string]int, len(chapterCounts))
	for k, v := range chapterCounts {
		m[k] = v
	}
	return m
}

func ChapterCount(book string) (int, bool) {
	n, ok := chapterCounts[book]
	return n, ok
}

func SearchBooks(query string) []string {
	if query == "" {
		return BookNames()
	}
	q := strings.ToLower(query)
	var out []string
	for _, b := range books {
		if strings.Contains(strings.ToLower(b.Name), q) {
			out = append(out, b.Name)
		}
	}
	return out
}

type Validation struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ValidateChapter(book string, chapter int) Validation {
	if book == "" {
		return Validation{Error: "Please select a Bible book first"}
	}

	max, ok := ChapterCount(book)
	if !ok {
		return Validation{Error: fmt.Sprintf("Unknown book: %s", book)}
	}

	if chapter < 1 {
		return Validation{Error: "Chapter number must be at least 1"}
	}

	if chapter > max {
		plural := "s"
		if max == 1 {
			plural = ""
		}
		return Validation{Error: fmt.Sprintf("%s only has %d chapter%s", book, max, plural)}
	}

	return Validation{Valid: true, Message: fmt.Sprintf("%s %d is valid", book, chapter)}
}

// CheckReference is the error-returning form of ValidateChapter.
func CheckReference(book string, chapter int) error {
	max, ok := ChapterCount(book)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBook, book)
	}
	if chapter < 1 || chapter > max {
		return fmt.Errorf("%w: %s %d", ErrInvalidChapter, book, chapter)
	}
	return nil
}

type Version struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func Versions() []Version {
	return []Version{
		{"NIV", "New International Version"},
		{"ESV", "English Standard Version"},
		{"KJV", "King James Version"},
		{"NASB", "New American Standard Bible"},
		{"NLT", "New Living Translation"},
		{"CSB", "Christian Standard Bible"},
		{"WEB", "World English Bible"},
		{"NKJV", "New King James Version"},
		{"MSG", "The Message"},
		{"AMP", "Amplified Bible"},
		{"CEV", "Contemporary English Version"},
		{"HCSB", "Holman Christian Standard Bible"},
		{"NASB1995", "New American Standard Bible 1995"},
		{"NET", "New English Translation"},
		{"RSV", "Revised Standard Version"},
		{"ASV", "American Standard Version"},
		{"YLT", "Young's Literal Translation"},
		{"DARBY", "Darby Translation"},
		{"GNT", "Good News Translation"},
		{"NCV", "New Century Version"},
	}
}

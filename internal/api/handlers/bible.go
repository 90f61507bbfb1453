package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/audibible/narrator/internal/bible"
)

type BibleHandler struct{}

func NewBibleHandler() *BibleHandler {
	return &BibleHandler{}
}

func (h *BibleHandler) Books(c *gin.Context) {
	names := bible.BookNames()
	if q := c.Query("q"); q != "" {
		names = bible.SearchBooks(q)
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"books":     bible.ChapterCounts(),
		"bookNames": names,
	})
}

func (h *BibleHandler) Validate(c *gin.Context) {
	book := c.Param("book")
	chapter, _ := strconv.Atoi(c.Param("chapter"))

	v := bible.ValidateChapter(book, chapter)
	msg := v.Message
	if msg == "" {
		msg = v.Error
	}
	maxChapters, _ := bible.ChapterCount(book)

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"valid":       v.Valid,
		"book":        book,
		"chapter":     chapter,
		"maxChapters": maxChapters,
		"message":     msg,
	})
}

func (h *BibleHandler) Versions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"versions": bible.Versions()})
}

func (h *BibleHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/bible/books", h.Books)
	r.GET("/bible/validate/:book/:chapter", h.Validate)
	r.GET("/bible/versions", h.Versions)
}

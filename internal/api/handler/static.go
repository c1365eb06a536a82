package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gin-gonic/gin"
)

var pageName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// StaticHandler serves the HTML pages of the bundled frontend.
type StaticHandler struct {
	dir string
}

func NewStaticHandler(dir string) *StaticHandler {
	return &StaticHandler{dir: dir}
}

// Index handles GET /.
func (h *StaticHandler) Index(c *gin.Context) {
	h.serve(c, "index")
}

// Page handles GET /:page by serving {page}.html, so /login maps to login.html.
func (h *StaticHandler) Page(c *gin.Context) {
	page := c.Param("page")
	if !pageName.MatchString(page) {
		c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
		return
	}
	h.serve(c, page)
}

func (h *StaticHandler) serve(c *gin.Context, page string) {
	path := filepath.Join(h.dir, page+".html")
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
		return
	}
	c.File(path)
}

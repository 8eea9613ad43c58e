package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const mistralOCRURL = "https://api.mistral.ai/v1/ocr"

type pdfPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrResponse struct {
	Pages []pdfPage `json:"pages"`
}

// PDFScraper extracts the text of PDF documents via the Mistral OCR API.
// It is used after a session completes to pull the full text of retained
// papers into the memory bank.
type PDFScraper struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
}

// NewPDFScraper reads MISTRAL_API_KEY from the environment when apiKey
// is empty.
func NewPDFScraper(apiKey string) (*PDFScraper, error) {
	if apiKey == "" {
		apiKey = os.Getenv("MISTRAL_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("MISTRAL_API_KEY is not set")
	}
	return &PDFScraper{
		Client:  http.DefaultClient,
		BaseURL: mistralOCRURL,
		APIKey:  apiKey,
	}, nil
}

// PDFURL rewrites an arXiv abstract URL to its PDF counterpart. Other
// URLs pass through unchanged.
func PDFURL(url string) string {
	url = strings.Replace(url, "http://", "https://", 1)
	return strings.Replace(url, "arxiv.org/abs/", "arxiv.org/pdf/", 1)
}

// ScrapePDF extracts the contents of a PDF file as markdown text.
func (p *PDFScraper) ScrapePDF(ctx context.Context, url string) (string, error) {
	url = PDFURL(url)

	reqBody := map[string]interface{}{
		"model": "mistral-ocr-latest",
		"document": map[string]string{
			"type":         "document_url",
			"document_url": url,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var ocr ocrResponse
	if err := json.Unmarshal(body, &ocr); err != nil {
		return "", fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}

	var sb strings.Builder
	for _, page := range ocr.Pages {
		sb.WriteString(page.Markdown)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

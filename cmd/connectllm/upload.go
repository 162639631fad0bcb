package main

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <archive.zip>",
	Short: "Stage a Slack export archive and create a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func runUpload(_ *cobra.Command, args []string) error {
	archivePath := args[0]
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("archive", filepath.Base(archivePath))
		if err != nil {
			pw.CloseWithError(fmt.Errorf("create form file: %w", err))
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(fmt.Errorf("stream archive: %w", err))
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequest(http.MethodPost, serverURL+"/admin/upload", pr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload archive: %s: %s", resp.Status, body)
	}

	fmt.Println(string(body))
	return nil
}

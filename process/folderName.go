package process

import (
	"errors"
	"os"
	"regexp"
	"strings"

	"github.com/Nicba1010/PS-Tools/settings"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"robpike.io/nihongo"
)

var (
	folderIllegalCharsRegex = regexp.MustCompile(`[/\\?%*:|"<>]`)
)

// ValidateOptions checks that a per title folder can be named.
func ValidateOptions(options settings.ExtractOptions) error {
	if !options.CreateFolderPerTitle {
		return nil
	}
	if options.FolderNameTemplate == "" {
		return errors.New("folder name template cannot be empty")
	}
	if !strings.Contains(options.FolderNameTemplate, settings.TEMPLATE_TITLE_NAME) &&
		!strings.Contains(options.FolderNameTemplate, settings.TEMPLATE_TITLE_ID) &&
		!strings.Contains(options.FolderNameTemplate, settings.TEMPLATE_CONTENT_ID) {
		return errors.New("folder name template needs to contain one of the following - title id, content id or title name")
	}
	return nil
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\n", " ")
	return folderIllegalCharsRegex.ReplaceAllString(name, "-")
}

// applyTemplate fills {KEY} placeholders and drops the brackets left empty
// by missing values.
func applyTemplate(templateData map[string]string, template string, romanize bool) string {
	result := strings.Replace(template, "{"+settings.TEMPLATE_TITLE_NAME+"}", cleanName(templateData[settings.TEMPLATE_TITLE_NAME]), 1)
	result = strings.Replace(result, "{"+settings.TEMPLATE_TITLE_ID+"}", strings.ToUpper(templateData[settings.TEMPLATE_TITLE_ID]), 1)
	result = strings.Replace(result, "{"+settings.TEMPLATE_CONTENT_ID+"}", cleanName(templateData[settings.TEMPLATE_CONTENT_ID]), 1)
	result = strings.Replace(result, "{"+settings.TEMPLATE_VERSION+"}", templateData[settings.TEMPLATE_VERSION], 1)
	result = strings.Replace(result, "{"+settings.TEMPLATE_TYPE+"}", templateData[settings.TEMPLATE_TYPE], 1)
	result = strings.ReplaceAll(result, "[]", "")
	result = strings.ReplaceAll(result, "()", "")
	result = strings.ReplaceAll(result, "<>", "")
	for strings.Contains(result, "  ") {
		result = strings.ReplaceAll(result, "  ", " ")
	}
	result = strings.TrimSpace(result)
	result = strings.TrimSuffix(result, ".")
	if romanize {
		result = nihongo.RomajiString(result)
	}
	return result
}

// DeleteEmptyFolders removes every empty folder below root, deepest first.
func DeleteEmptyFolders(fs afero.Fs, root string) error {
	var folders []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != root {
			folders = append(folders, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := len(folders) - 1; i >= 0; i-- {
		empty, err := afero.IsEmpty(fs, folders[i])
		if err != nil || !empty {
			continue
		}
		zap.S().Infof("Deleting empty folder [%v]", folders[i])
		_ = fs.Remove(folders[i])
	}
	return nil
}

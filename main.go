package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Nicba1010/PS-Tools/logger"
	"github.com/Nicba1010/PS-Tools/settings"
)

func main() {
	flag.Parse()

	workingFolder, err := settings.GetWorkingFolder()
	if err != nil {
		fmt.Printf("failed to determine the working folder - %v\n", err)
		os.Exit(1)
	}

	appSettings := settings.NewAppSettings(workingFolder)
	sugar := logger.GetSugar(appSettings.BaseFolder(), appSettings.Debug || *debug)
	sugar.Infof("[PS-Tools v%v]", settings.PSTOOLS_VERSION)
	sugar.Infof("[Settings folder: %v]", appSettings.BaseFolder())

	console, err := CreateConsole(appSettings, sugar)
	if err == nil {
		err = console.Start()
	}
	if err != nil {
		sugar.Errorf("%v", err)
		fmt.Printf("\n%v\n", err)
		logger.Defer()
		os.Exit(1)
	}
	logger.Defer()
}

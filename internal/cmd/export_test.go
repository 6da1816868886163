package cmd

var UdevRules = udevRules

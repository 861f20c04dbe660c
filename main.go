package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) > 1 {
		cmd := os.Args[1]
		switch cmd {
		case "train":
			if err := RunTrainCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "plot":
			if err := RunPlotCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  mixtrain [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  train       Train a classifier with mixup or directional adversarial training")
	fmt.Println("  plot        Plot loss and accuracy curves from a run's history")
	fmt.Println("  help        Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  mixtrain train --dataset cifar10 --lam_parameters 1 1 --epoch 200")
	fmt.Println("  mixtrain train --directional_adversarial --dat_parameters 2 1 --iid_sampling")
	fmt.Println("  mixtrain train --dat_transform --dat_parameters 2 1 --cosine_loss --label_dim 300")
	fmt.Println("  mixtrain train --checkpoint checkpoint_0.ckpt --seed 0 --epoch 300")
	fmt.Println("  mixtrain plot --history 0_history.csv --out curves.png")
	fmt.Println()
	fmt.Println("Run 'mixtrain train --help' for the full list of training flags.")
}

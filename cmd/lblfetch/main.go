// Fetches Kili annotations into YOLO datasets and downloads model weights and dataset archives.
package main

func main() {
	Execute()
}

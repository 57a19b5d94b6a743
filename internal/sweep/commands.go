package sweep

import "regexp"

// DefaultSetupCommands is the remote sequence that takes a fresh Ubuntu
// 22.04 instance to a working CUDA toolkit. Order matters: the driver wants
// a reboot before gcc and the keyring, and the package index wants another
// one before the toolkit installs cleanly. Non-zero exits do not stop the
// sequence; the reboot commands in particular always drop the connection.
func DefaultSetupCommands() []string {
	return []string{
		"echo 'works'",
		"sudo apt update",
		"sudo apt upgrade",
		"sudo apt install ubuntu-drivers-common",
		"sudo apt install nvidia-driver-535",
		"sudo reboot now",
		"sudo apt install gcc",
		"wget https://developer.download.nvidia.com/compute/cuda/repos/ubuntu2204/x86_64/cuda-keyring_1.1-1_all.deb",
		"sudo dpkg -i cuda-keyring_1.1-1_all.deb",
		"sudo apt-get update",
		"sudo reboot now",
		"sudo apt install nvidia-cuda-toolkit",
		"nvidia-smi",
		"nvcc --version",
	}
}

var urlPattern = regexp.MustCompile(`https?://[^\s'"]+`)

// ExtractURLs returns every http(s) URL referenced by the commands,
// deduplicated, in first-seen order
func ExtractURLs(commands []string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, command := range commands {
		for _, url := range urlPattern.FindAllString(command, -1) {
			if !seen[url] {
				seen[url] = true
				urls = append(urls, url)
			}
		}
	}
	return urls
}
